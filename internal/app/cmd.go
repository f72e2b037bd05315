package app

import "strings"

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はWebサーバーモード。
	CommandServe Command = "serve"
	// CommandWorker は期限切れトークンのクリーンアップを行うワーカーモード。
	CommandWorker Command = "worker"
	// CommandMigrate はトークン保存テーブルのマイグレーション。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はdistroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
)

// Invocation は解析済みのコマンドライン引数。
type Invocation struct {
	Command Command
	// Down はmigrate downの場合にtrue。
	Down bool
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	return ParseInvocation(args).Command
}

// ParseInvocation はサブコマンドとその引数を解析する。
// migrateだけが第2引数（up/down）を受け付け、それ以外の余分な引数は無視する。
func ParseInvocation(args []string) Invocation {
	if len(args) == 0 {
		return Invocation{Command: CommandServe}
	}

	switch strings.ToLower(args[0]) {
	case "worker":
		return Invocation{Command: CommandWorker}
	case "migrate":
		inv := Invocation{Command: CommandMigrate}
		if len(args) > 1 && strings.EqualFold(args[1], "down") {
			inv.Down = true
		}
		return inv
	case "healthcheck":
		return Invocation{Command: CommandHealthcheck}
	default:
		return Invocation{Command: CommandServe}
	}
}
