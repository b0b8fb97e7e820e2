package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v3"

	appcli "github.com/jinford/graph-rag/internal/app/cli"
	"github.com/jinford/graph-rag/internal/core/retrieval"
)

func envFlag() cli.Flag {
	return &cli.StringFlag{
		Name:  "env",
		Usage: "環境変数ファイルパス",
		Value: ".env",
	}
}

func tenantFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "tenant",
		Usage:    "テナントID（UUID）",
		Required: true,
		Sources:  cli.EnvVars("GRAPH_RAG_TENANT"),
	}
}

func documentFlag() cli.Flag {
	return &cli.StringFlag{
		Name:     "document",
		Usage:    "ドキュメントID（UUID）",
		Required: true,
	}
}

func searchFlags() []cli.Flag {
	return []cli.Flag{
		envFlag(),
		tenantFlag(),
		&cli.StringFlag{
			Name:  "mode",
			Usage: "検索モード（naive / local / global / hybrid / mix）",
			Value: string(retrieval.DefaultMode),
		},
		&cli.StringFlag{
			Name:  "workspace",
			Usage: "ワークスペース（省略時はテナント全体）",
		},
		&cli.IntFlag{
			Name:  "top-k",
			Usage: "取得件数（0の場合は設定値）",
		},
	}
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app := &cli.Command{
		Name:  "graph-rag",
		Usage: "マルチテナント対応のナレッジグラフRAGエンジン",
		Commands: []*cli.Command{
			{
				Name:  "db",
				Usage: "データベース管理コマンド",
				Commands: []*cli.Command{
					{
						Name:   "migrate",
						Usage:  "スキーマ（pgvector拡張・テーブル・インデックス）を作成",
						Flags:  []cli.Flag{envFlag()},
						Action: appcli.DBMigrateAction,
					},
				},
			},
			{
				Name:  "document",
				Usage: "ドキュメント管理コマンド",
				Commands: []*cli.Command{
					{
						Name:  "import",
						Usage: "チャンク済みドキュメント（JSON）を取り込む",
						Flags: []cli.Flag{
							envFlag(),
							tenantFlag(),
							&cli.StringFlag{
								Name:     "file",
								Usage:    "取り込みJSONファイル（- で標準入力）",
								Required: true,
							},
							&cli.StringFlag{
								Name:  "workspace",
								Usage: "ワークスペース（JSONの値を上書き）",
							},
							&cli.BoolFlag{
								Name:  "embed",
								Usage: "取り込み後にEmbeddingを付与",
							},
							&cli.BoolFlag{
								Name:  "extract",
								Usage: "取り込み後にEmbedding付与とエンティティ抽出を実行",
							},
						},
						Action: appcli.DocumentImportAction,
					},
					{
						Name:   "embed",
						Usage:  "Embedding未付与のチャンクにベクトルを付与",
						Flags:  []cli.Flag{envFlag(), tenantFlag(), documentFlag()},
						Action: appcli.DocumentEmbedAction,
					},
					{
						Name:   "extract",
						Usage:  "ドキュメントからエンティティとリレーションを抽出",
						Flags:  []cli.Flag{envFlag(), tenantFlag(), documentFlag()},
						Action: appcli.DocumentExtractAction,
					},
					{
						Name:   "delete",
						Usage:  "ドキュメントを削除し、ナレッジグラフから出典を取り除く",
						Flags:  []cli.Flag{envFlag(), tenantFlag(), documentFlag()},
						Action: appcli.DocumentDeleteAction,
					},
				},
			},
			{
				Name:      "query",
				Usage:     "検索のみを実行して取得結果を表示",
				ArgsUsage: "<query>",
				Flags: append(searchFlags(), &cli.BoolFlag{
					Name:  "context",
					Usage: "LLMに渡すコンテキスト文字列を出力",
				}),
				Action: appcli.QueryAction,
			},
			{
				Name:      "ask",
				Usage:     "ナレッジグラフに基づいて質問に回答",
				ArgsUsage: "<question>",
				Flags: append(searchFlags(), &cli.BoolFlag{
					Name:  "show-sources",
					Usage: "参照ソースを表示",
				}),
				Action: appcli.AskAction,
			},
		},
	}

	if err := app.Run(ctx, os.Args); err != nil {
		log.Fatal(err)
	}
}
