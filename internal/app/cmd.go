package app

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/spf13/pflag"

	"github.com/hitoshi/jobhub/internal/user"
)

// Command はアプリケーションの起動モードを表す。
type Command string

const (
	// CommandServe はAPIサーバーモードで起動することを示す。
	CommandServe Command = "serve"
	// CommandWorker はワーカーモードで起動することを示す。
	CommandWorker Command = "worker"
	// CommandMigrate はデータベースマイグレーションを実行することを示す。
	CommandMigrate Command = "migrate"
	// CommandHealthcheck はヘルスチェックを実行することを示す。
	// distroless環境でのDockerヘルスチェック用。
	CommandHealthcheck Command = "healthcheck"
	// CommandCreateAdmin は管理者ユーザーを作成することを示す。
	CommandCreateAdmin Command = "create-admin"
)

// ParseCommand はコマンドライン引数からサブコマンドを解析する。
// 引数が空またはサポート外のコマンドの場合はCommandServeを返す。
func ParseCommand(args []string) Command {
	if len(args) == 0 {
		return CommandServe
	}

	switch Command(args[0]) {
	case CommandWorker, CommandServe, CommandMigrate, CommandHealthcheck, CommandCreateAdmin:
		return Command(args[0])
	default:
		return CommandServe
	}
}

// MigrateDirection はマイグレーションの方向を表す。
type MigrateDirection string

const (
	MigrateUp      MigrateDirection = "up"
	MigrateDown    MigrateDirection = "down"
	MigrateVersion MigrateDirection = "version"
)

// MigrateArgs はmigrateサブコマンドの引数。
type MigrateArgs struct {
	Direction MigrateDirection
	Steps     int // downの場合のみ使用する
}

// ParseMigrateArgs はmigrateに続く引数を解析する。
//
//	migrate              全ての未適用マイグレーションを適用
//	migrate up           同上
//	migrate down [N]     N個（デフォルト1）ロールバック
//	migrate version      現在のバージョンを表示
func ParseMigrateArgs(args []string) (MigrateArgs, error) {
	if len(args) == 0 {
		return MigrateArgs{Direction: MigrateUp}, nil
	}

	switch MigrateDirection(strings.ToLower(args[0])) {
	case MigrateUp:
		return MigrateArgs{Direction: MigrateUp}, nil
	case MigrateVersion:
		return MigrateArgs{Direction: MigrateVersion}, nil
	case MigrateDown:
		steps := 1
		if len(args) > 1 {
			n, err := strconv.Atoi(args[1])
			if err != nil || n <= 0 {
				return MigrateArgs{}, fmt.Errorf("invalid rollback steps %q: must be a positive integer", args[1])
			}
			steps = n
		}
		return MigrateArgs{Direction: MigrateDown, Steps: steps}, nil
	default:
		return MigrateArgs{}, fmt.Errorf("unknown migrate direction %q (want up, down or version)", args[0])
	}
}

// ParseCreateAdminArgs はcreate-adminに続くフラグを解析する。
// --email と --password は必須。
func ParseCreateAdminArgs(args []string) (user.CreateInput, error) {
	var in user.CreateInput

	flagSet := pflag.NewFlagSet(string(CommandCreateAdmin), pflag.ContinueOnError)
	flagSet.StringVar(&in.Email, "email", "", "administrator email address")
	flagSet.StringVar(&in.Password, "password", "", "administrator password")
	flagSet.StringVar(&in.DisplayName, "display-name", "", "display name (defaults to the email local part)")

	if err := flagSet.Parse(args); err != nil {
		return user.CreateInput{}, err
	}

	var missing []string
	if in.Email == "" {
		missing = append(missing, "--email")
	}
	if in.Password == "" {
		missing = append(missing, "--password")
	}
	if len(missing) > 0 {
		return user.CreateInput{}, fmt.Errorf("required flags are not set: %v", missing)
	}

	in.IsAdmin = true
	return in, nil
}
