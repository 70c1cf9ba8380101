package main

import (
	"fmt"
	"os"

	"github.com/hitoshi/bananaquiz/internal/app"
	"github.com/joho/godotenv"
)

func main() {
	// .envは任意。存在しない場合は環境変数のみで起動する
	_ = godotenv.Load()

	if err := app.Run(os.Stdout, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "bananaquiz: %v\n", err)
		os.Exit(1)
	}
}
