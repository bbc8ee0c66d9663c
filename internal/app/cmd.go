package app

import (
	"errors"
	"fmt"
	"io"
)

// Command はeventboardバイナリのサブコマンド。
type Command string

const (
	// CommandServe はイベント掲示板APIを起動する。
	CommandServe Command = "serve"
	// CommandWorker は孤立した参加登録を定期削除するワーカーを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はeventboardスキーマのマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中プロセスの/healthを叩いて終了コードで返す。
	// distrolessイメージにはcurlが無いためバイナリ自身が行う。
	CommandHealthcheck Command = "healthcheck"
	// CommandHelp はサブコマンドの一覧を表示する。
	CommandHelp Command = "help"
)

// ErrUnknownCommand はサポート外のサブコマンドが指定されたことを示す。
var ErrUnknownCommand = errors.New("unknown command")

// commands はusageに表示する順序も兼ねる。
var commands = []struct {
	name    Command
	summary string
}{
	{CommandServe, "start the event board API (default)"},
	{CommandWorker, "run the orphaned signup cleanup on CLEANUP_INTERVAL"},
	{CommandMigrate, "apply pending schema migrations and exit"},
	{CommandHealthcheck, "check http://localhost:$SERVER_PORT/health and exit"},
	{CommandHelp, "show this message"},
}

// ParseCommand はos.Args[1:]からサブコマンドを取り出す。
// 引数が無い場合はserveとする。
// 打ち間違いでAPIが起動しないよう、未知のサブコマンドはエラーにする。
func ParseCommand(args []string) (Command, error) {
	if len(args) == 0 {
		return CommandServe, nil
	}

	switch args[0] {
	case "-h", "--help":
		return CommandHelp, nil
	}
	for _, c := range commands {
		if string(c.name) == args[0] {
			return c.name, nil
		}
	}
	return "", fmt.Errorf("%w: %q", ErrUnknownCommand, args[0])
}

// PrintUsage はサブコマンドの一覧をwに書き出す。
func PrintUsage(w io.Writer) {
	fmt.Fprintln(w, "usage: eventboard <command>")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "commands:")
	for _, c := range commands {
		fmt.Fprintf(w, "  %-12s %s\n", c.name, c.summary)
	}
}
