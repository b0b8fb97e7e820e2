package cli

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/google/uuid"
	"github.com/urfave/cli/v3"

	"github.com/jinford/graph-rag/internal/core/ingestion"
)

// DocumentImportAction はチャンク済みドキュメントを取り込むコマンドのアクション
func DocumentImportAction(ctx context.Context, cmd *cli.Command) error {
	tenantID, err := parseUUIDFlag(cmd, "tenant")
	if err != nil {
		return err
	}

	req, err := loadImportRequest(cmd.String("file"), os.Stdin)
	if err != nil {
		return err
	}
	req.TenantID = tenantID
	if ws := cmd.String("workspace"); ws != "" {
		req.Workspace = ws
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	svc := appCtx.Container.Ingestion
	imported, err := svc.ImportDocument(ctx, req)
	if err != nil {
		return fmt.Errorf("ドキュメントの取り込みに失敗: %w", err)
	}
	renderImportResult(os.Stdout, imported)

	if cmd.Bool("embed") || cmd.Bool("extract") {
		stats, err := svc.EmbedDocument(ctx, tenantID, imported.DocumentID)
		if err != nil {
			return fmt.Errorf("Embedding付与に失敗: %w", err)
		}
		renderEmbedStats(os.Stdout, stats)
	}

	if cmd.Bool("extract") {
		result, err := svc.ExtractDocument(ctx, tenantID, imported.DocumentID)
		if err != nil {
			return fmt.Errorf("エンティティ抽出に失敗: %w", err)
		}
		renderExtractionResult(os.Stdout, result)
	}
	return nil
}

// DocumentEmbedAction はEmbedding未付与のチャンクにベクトルを付与するコマンドのアクション
func DocumentEmbedAction(ctx context.Context, cmd *cli.Command) error {
	tenantID, documentID, err := documentFlags(cmd)
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	stats, err := appCtx.Container.Ingestion.EmbedDocument(ctx, tenantID, documentID)
	if err != nil {
		return fmt.Errorf("Embedding付与に失敗: %w", err)
	}
	renderEmbedStats(os.Stdout, stats)
	return nil
}

// DocumentExtractAction はドキュメントからナレッジグラフを構築するコマンドのアクション
func DocumentExtractAction(ctx context.Context, cmd *cli.Command) error {
	tenantID, documentID, err := documentFlags(cmd)
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	result, err := appCtx.Container.Ingestion.ExtractDocument(ctx, tenantID, documentID)
	if err != nil {
		return fmt.Errorf("エンティティ抽出に失敗: %w", err)
	}
	renderExtractionResult(os.Stdout, result)
	return nil
}

// DocumentDeleteAction はドキュメントを削除するコマンドのアクション
func DocumentDeleteAction(ctx context.Context, cmd *cli.Command) error {
	tenantID, documentID, err := documentFlags(cmd)
	if err != nil {
		return err
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	stats, err := appCtx.Container.Ingestion.DeleteDocument(ctx, tenantID, documentID)
	if err != nil {
		return fmt.Errorf("ドキュメントの削除に失敗: %w", err)
	}
	renderDeleteStats(os.Stdout, stats)
	return nil
}

func documentFlags(cmd *cli.Command) (uuid.UUID, uuid.UUID, error) {
	tenantID, err := parseUUIDFlag(cmd, "tenant")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	documentID, err := parseUUIDFlag(cmd, "document")
	if err != nil {
		return uuid.Nil, uuid.Nil, err
	}
	return tenantID, documentID, nil
}

// loadImportRequest は取り込みリクエストのJSONを読み込む（"-" は標準入力）
func loadImportRequest(path string, stdin io.Reader) (ingestion.ImportRequest, error) {
	var req ingestion.ImportRequest
	if path == "" {
		return req, fmt.Errorf("--file を指定してください")
	}

	var r io.Reader = stdin
	if path != "-" {
		f, err := os.Open(path)
		if err != nil {
			return req, fmt.Errorf("failed to open import file: %w", err)
		}
		defer f.Close()
		r = f
	}

	if err := json.NewDecoder(r).Decode(&req); err != nil {
		return req, fmt.Errorf("failed to decode import file: %w", err)
	}
	return req, nil
}
