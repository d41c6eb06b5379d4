package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はEdge Proxyを起動することを示す。
	CommandServe Command = "serve"
	// CommandMigrate はクライアントストアのマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"

	// 以下はプロキシ経由で予約を行うクライアントコマンド。
	CommandLogin    Command = "login"
	CommandLogout   Command = "logout"
	CommandCourses  Command = "courses"
	CommandDates    Command = "dates"
	CommandTeeTimes Command = "teetimes"
	CommandBook     Command = "book"
	CommandConfirm  Command = "confirm"
	CommandBookings Command = "bookings"
	CommandSpending Command = "spending"

	// CommandUnknown はサポート外のサブコマンドを示す。
	CommandUnknown Command = "unknown"
)

// clientCommands はストアとプロキシを使うコマンドの一覧。
var clientCommands = map[Command]bool{
	CommandLogin:    true,
	CommandLogout:   true,
	CommandCourses:  true,
	CommandDates:    true,
	CommandTeeTimes: true,
	CommandBook:     true,
	CommandConfirm:  true,
	CommandBookings: true,
	CommandSpending: true,
}

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空の場合はCommandServe、サポート外の場合はCommandUnknownを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	cmd := Command(args[0])
	switch {
	case cmd == CommandServe, cmd == CommandMigrate, cmd == CommandHealthcheck:
		return cmd
	case clientCommands[cmd]:
		return cmd
	default:
		return CommandUnknown
	}
}

// IsClient はクライアントコマンドかを返す。
func (c Command) IsClient() bool {
	return clientCommands[c]
}

const usage = `usage: teebox <command> [flags]

proxy:
  serve         run the edge proxy (default)
  healthcheck   probe a running proxy on SERVER_PORT
  migrate       apply client store migrations (STORE_URL)

client:
  login         -username NAME [-password PASS | TEEBOX_PASSWORD]
  logout
  courses
  dates
  teetimes      -facility ID [-date YYYY-MM-DD]
  book          -facility ID -date YYYY-MM-DD -teetime ID [-players N] [-holes 9|18] [-carts]
  confirm       retry confirming the pending reservation left by a failed book
  bookings
  spending      [-refresh] [-csv FILE|-]
`
