package main

import (
	"errors"
	"fmt"
	"strings"

	"github.com/spf13/cobra"
	"gorm.io/gorm"

	"civy/internal/auth"
	"civy/internal/config"
	"civy/internal/database"
)

var userCmd = &cobra.Command{
	Use:   "user",
	Short: "账号管理",
}

var userCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "创建账号并输出一次性初始密码",
	RunE: func(cmd *cobra.Command, args []string) error {
		username, _ := cmd.Flags().GetString("username")
		username = strings.TrimSpace(username)
		if username == "" {
			return errors.New("missing required flag: --username")
		}

		dbCfg, err := config.LoadDatabase()
		if err != nil {
			return fmt.Errorf("load database config: %w", err)
		}
		db, err := database.InitDatabase(dbCfg)
		if err != nil {
			return fmt.Errorf("init database: %w", err)
		}
		if err := database.Migrate(db); err != nil {
			return fmt.Errorf("auto migrate: %w", err)
		}

		password, err := createUser(db, username)
		if err != nil {
			return err
		}

		out := cmd.OutOrStdout()
		fmt.Fprintf(out, "已创建账号（首次登录需强制改密）：\n")
		fmt.Fprintf(out, "用户名: %s\n", username)
		fmt.Fprintf(out, "初始密码: %s\n", password)
		fmt.Fprintf(out, "提示：该密码仅显示一次。\n")
		return nil
	},
}

// createUser 写入带强制改密标记的新账号并返回明文初始密码。
func createUser(db *gorm.DB, username string) (string, error) {
	var existing database.User
	switch err := db.Where("username = ?", username).First(&existing).Error; {
	case err == nil:
		return "", fmt.Errorf("user %q already exists", username)
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		return "", fmt.Errorf("query user: %w", err)
	}

	password, err := auth.GeneratePassword(24)
	if err != nil {
		return "", fmt.Errorf("generate password: %w", err)
	}
	hashed, err := auth.HashPassword(password)
	if err != nil {
		return "", err
	}

	user := database.User{
		Username:           username,
		PasswordHash:       hashed,
		MustChangePassword: true,
	}
	if err := db.Create(&user).Error; err != nil {
		return "", fmt.Errorf("create user: %w", err)
	}
	return password, nil
}

func init() {
	userCreateCmd.Flags().String("username", "", "用户名（必填）")
	userCmd.AddCommand(userCreateCmd)
	rootCmd.AddCommand(userCmd)
}
