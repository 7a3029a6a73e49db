package app

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"strings"

	"github.com/hitoshi/threadscope/internal/model"
	"github.com/hitoshi/threadscope/internal/pipeline"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandRun は取得と分析を1回実行する。
	CommandRun Command = "run"
	// CommandRegister はプラットフォームを登録する。
	CommandRegister Command = "register"
	// CommandWorker はスケジュール実行と運用HTTPサーバーを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// ParseCommand はコマンドライン引数からサブコマンドと残りの引数を解析する。
// 先頭がサブコマンドでない場合はCommandRunとし、引数はすべてrunのフラグとして扱う。
func ParseCommand(args []string) (Command, []string) {
	if len(args) == 0 {
		return CommandRun, nil
	}

	switch Command(args[0]) {
	case CommandRun, CommandRegister, CommandWorker, CommandMigrate, CommandHealthcheck:
		return Command(args[0]), args[1:]
	default:
		return CommandRun, args
	}
}

// parseRunFlags はrunコマンドのフラグを解析する。
//
//	-platform a,b  対象プラットフォーム（省略時は登録済みの全件）
//	-pages N       プラットフォームごとの最大ページ数
//	-no-analysis   分析を行わない
func parseRunFlags(args []string, out io.Writer) (pipeline.RunOptions, error) {
	fs := flag.NewFlagSet(string(CommandRun), flag.ContinueOnError)
	fs.SetOutput(out)
	platforms := fs.String("platform", "", "comma separated platform names (default: all registered)")
	pages := fs.Int("pages", 1, "max pages per platform")
	noAnalysis := fs.Bool("no-analysis", false, "skip content analysis")
	if err := fs.Parse(args); err != nil {
		return pipeline.RunOptions{}, err
	}
	if *pages < 1 {
		return pipeline.RunOptions{}, fmt.Errorf("-pages must be at least 1: %d", *pages)
	}

	return pipeline.RunOptions{
		Platforms: splitList(*platforms),
		MaxPages:  *pages,
		Analyze:   !*noAnalysis,
	}, nil
}

// registerOptions はregisterコマンドの引数。
type registerOptions struct {
	Name    string
	Website string
	Type    model.PlatformType
}

func parseRegisterFlags(args []string, out io.Writer) (registerOptions, error) {
	fs := flag.NewFlagSet(string(CommandRegister), flag.ContinueOnError)
	fs.SetOutput(out)
	name := fs.String("name", "", "platform name (required)")
	website := fs.String("url", "", "platform website (required)")
	platformType := fs.String("type", string(model.PlatformTypeForum), "platform type: forum | feed | xiaohongshu")
	if err := fs.Parse(args); err != nil {
		return registerOptions{}, err
	}

	if strings.TrimSpace(*name) == "" || strings.TrimSpace(*website) == "" {
		return registerOptions{}, errors.New("-name and -url are required")
	}
	return registerOptions{
		Name:    strings.TrimSpace(*name),
		Website: strings.TrimSpace(*website),
		Type:    model.PlatformType(*platformType),
	}, nil
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
