package cli

import (
	"context"
	"fmt"
	"os"
	"strings"

	"github.com/urfave/cli/v3"

	"github.com/jinford/graph-rag/internal/core/answer"
	"github.com/jinford/graph-rag/internal/core/retrieval"
)

// AskAction は質問応答コマンドのアクション
func AskAction(ctx context.Context, cmd *cli.Command) error {
	tenantID, err := parseUUIDFlag(cmd, "tenant")
	if err != nil {
		return err
	}
	mode, err := retrieval.ParseMode(cmd.String("mode"))
	if err != nil {
		return err
	}

	question := strings.Join(cmd.Args().Slice(), " ")
	if strings.TrimSpace(question) == "" {
		return fmt.Errorf("質問文を指定してください")
	}

	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()

	logger := appCtx.Logger()
	logger.Info("質問応答を開始", "tenantID", tenantID, "mode", mode)

	result, err := appCtx.Container.Answer.Ask(ctx, answer.Params{
		TenantID:  tenantID,
		Query:     question,
		Mode:      mode,
		Workspace: cmd.String("workspace"),
		TopK:      int(cmd.Int("top-k")),
	})
	if err != nil {
		logger.Error("質問応答に失敗しました", "error", err)
		return err
	}

	fmt.Println(result.Answer)

	if cmd.Bool("show-sources") && len(result.Citations) > 0 {
		fmt.Println("\n--- 参照ソース ---")
		renderCitations(os.Stdout, result.Citations)
	}

	logger.Info("質問応答が完了しました", "citations", len(result.Citations))
	return nil
}
