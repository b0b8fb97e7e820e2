package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/jinford/graph-rag/internal/core/retrieval"
)

// QueryAction は検索のみを実行して取得結果を表示するコマンドのアクション
func QueryAction(ctx context.Context, cmd *cli.Command) error {
	tenantID, err := parseUUIDFlag(cmd, "tenant")
	if err != nil {
		return err
	}
	mode, err := retrieval.ParseMode(cmd.String("mode"))
	if err != nil {
		return err
	}

	query := strings.Join(cmd.Args().Slice(), " ")
	if strings.TrimSpace(query) == "" {
		return fmt.Errorf("検索クエリを指定してください")
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	result, err := appCtx.Container.Retrieval.Retrieve(ctx, retrieval.Params{
		Query:     query,
		TenantID:  tenantID,
		Mode:      mode,
		Workspace: cmd.String("workspace"),
		TopK:      int(cmd.Int("top-k")),
	})
	if err != nil {
		return fmt.Errorf("検索に失敗: %w", err)
	}

	if cmd.Bool("context") {
		fmt.Println(result.Context)
		return nil
	}
	renderRetrievalResult(os.Stdout, result)
	return nil
}
