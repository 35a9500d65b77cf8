package app

import (
	"errors"
	"fmt"
	"strings"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。引数なしの既定値。
	CommandServe Command = "serve"
	// CommandMigrate はスキーママイグレーションを操作することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中サーバーの/healthを確認する。
	// distrolessイメージにはcurlがないため、Dockerのヘルスチェックはこれを使う。
	CommandHealthcheck Command = "healthcheck"
	// CommandHelp は使い方を表示する。
	CommandHelp Command = "help"
)

// MigrateAction はmigrateサブコマンドの操作。
type MigrateAction string

const (
	// MigrateUp は未適用のマイグレーションをすべて適用する。既定値。
	MigrateUp MigrateAction = "up"
	// MigrateDown は最新のマイグレーションを1つだけ戻す。
	MigrateDown MigrateAction = "down"
	// MigrateVersion は現在のスキーマバージョンを表示する。
	MigrateVersion MigrateAction = "version"
)

// ErrUnknownCommand はサポート外のサブコマンドまたは操作が指定されたことを表す。
var ErrUnknownCommand = errors.New("unknown command")

// Usage はhelpおよび引数エラー時に表示する使い方。
const Usage = `Usage: chairside [command]

Commands:
  serve                  start the booking API (default)
  migrate [up|down|version]
                         apply all migrations, roll back one, or print the schema version
  healthcheck            request GET /health on SERVER_PORT (exit 1 unless 200)
  help                   show this message
`

// Invocation はコマンドライン引数の解析結果。
type Invocation struct {
	Command Command
	Migrate MigrateAction // CommandMigrateのときのみ設定される
}

// ParseArgs はos.Args[1:]からサブコマンドを解析する。
// 引数が空の場合はserve。フラグ形式の引数は無視する。
func ParseArgs(args []string) (Invocation, error) {
	positional := make([]string, 0, len(args))
	for _, a := range args {
		switch a {
		case "-h", "-help", "--help":
			return Invocation{Command: CommandHelp}, nil
		}
		if strings.HasPrefix(a, "-") {
			continue
		}
		positional = append(positional, a)
	}
	if len(positional) == 0 {
		return Invocation{Command: CommandServe}, nil
	}

	switch cmd := Command(positional[0]); cmd {
	case CommandServe, CommandHealthcheck, CommandHelp:
		return Invocation{Command: cmd}, nil
	case CommandMigrate:
		action := MigrateUp
		if len(positional) > 1 {
			action = MigrateAction(positional[1])
		}
		switch action {
		case MigrateUp, MigrateDown, MigrateVersion:
			return Invocation{Command: CommandMigrate, Migrate: action}, nil
		}
		return Invocation{}, fmt.Errorf("%w: migrate %s", ErrUnknownCommand, action)
	default:
		return Invocation{}, fmt.Errorf("%w: %s", ErrUnknownCommand, positional[0])
	}
}
