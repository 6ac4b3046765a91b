package app

// Command はアプリケーションの起動モードを表す。
// 同じバイナリをサブコマンドで切り替えて、APIサーバーとパイプラインワーカーを
// 別プロセスとしてデプロイする。
type Command string

const (
	// CommandServe はHTTP APIサーバーを起動する。
	CommandServe Command = "serve"
	// CommandWorker は取り込みスケジューラとエンリッチワーカープールを起動する。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを適用して終了する。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck は稼働中のAPIサーバーへのヘルスチェックを実行して終了する。
	// shellを持たないdistrolessイメージのDocker HEALTHCHECK用。
	CommandHealthcheck Command = "healthcheck"
)

// commands は認識するサブコマンドの集合。
var commands = map[string]Command{
	"serve":       CommandServe,
	"worker":      CommandWorker,
	"migrate":     CommandMigrate,
	"healthcheck": CommandHealthcheck,
}

// ParseCommand はコマンドライン引数の先頭からサブコマンドを解析する。
// 引数が空または認識できないコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}
	if cmd, ok := commands[args[0]]; ok {
		return cmd
	}
	return CommandServe
}
