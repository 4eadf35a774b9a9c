package config

import (
	"errors"
	"os"

	"github.com/joho/godotenv"
)

// LoadDotEnv 从 .env 文件加载环境变量；文件不存在时忽略，已存在的环境变量不覆盖
func LoadDotEnv(path string) error {
	err := godotenv.Load(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	return err
}
