package app

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker は期限切れのサインインリンクとセッションを掃除するワーカーを起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandSeedUsers はYAMLファイルから投資家を事前登録する。
	CommandSeedUsers Command = "seed-users"
	// CommandSeedStartups はCSVファイルからスタートアップ一覧を投入する。
	CommandSeedStartups Command = "seed-startups"
	// CommandClearTestData はすべての投票と面談リクエストを削除する。
	CommandClearTestData Command = "clear-test-data"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch Command(args[0]) {
	case CommandServe, CommandWorker, CommandMigrate, CommandHealthcheck,
		CommandSeedUsers, CommandSeedStartups, CommandClearTestData:
		return Command(args[0])
	default:
		return CommandServe
	}
}

// commandArg はサブコマンドに続くi番目の引数を返す。存在しない場合は空文字列。
func commandArg(args []string, i int) string {
	if len(args) > i+1 {
		return args[i+1]
	}
	return ""
}
