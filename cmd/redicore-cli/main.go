package main

import (
	"crypto/tls"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/duskfin/redicore/internal/cliapp"
	"github.com/duskfin/redicore/rconn"
	"github.com/duskfin/redicore/rpool"
)

var rootCmd = &cobra.Command{
	Use:   "redicore-cli",
	Short: "Interactive command-line client for a Redis-compatible server",
	Long: `Interactive command-line client built on the redicore Pool, similar to
redis-cli.

Examples:
  redicore-cli
  redicore-cli --host 127.0.0.1 --port 6379
  redicore-cli --eval "SET key value"
  redicore-cli --file commands.txt`,
	Run: runCLI,
}

func init() {
	rootCmd.Flags().String("host", "127.0.0.1", "server host")
	rootCmd.Flags().IntP("port", "p", 6379, "server port")
	rootCmd.Flags().StringP("password", "a", "", "AUTH password")
	rootCmd.Flags().String("username", "", "AUTH username (ACL)")
	rootCmd.Flags().IntP("db", "n", 0, "database number")
	rootCmd.Flags().Duration("timeout", 5*time.Second, "command timeout")
	rootCmd.Flags().Bool("tls", false, "use TLS")

	rootCmd.Flags().Bool("raw", false, "raw reply formatting")
	rootCmd.Flags().String("eval", "", "run a single command and exit")
	rootCmd.Flags().String("file", "", "run commands from a file")
	rootCmd.Flags().Bool("pipe", false, "read commands from stdin")
}

func runCLI(cmd *cobra.Command, args []string) {
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	password, _ := cmd.Flags().GetString("password")
	username, _ := cmd.Flags().GetString("username")
	db, _ := cmd.Flags().GetInt("db")
	timeout, _ := cmd.Flags().GetDuration("timeout")
	useTLS, _ := cmd.Flags().GetBool("tls")

	connOpts := rconn.Options{
		Network:      "tcp",
		Addr:         fmt.Sprintf("%s:%d", host, port),
		Username:     username,
		Password:     password,
		DB:           db,
		DialTimeout:  timeout,
		ReadTimeout:  timeout,
		WriteTimeout: timeout,
	}
	if useTLS {
		connOpts.TLSConfig = &tls.Config{ServerName: host}
	}

	pool := rpool.New(rpool.Options{
		ConnOptions: connOpts,
		MinSize:     0,
		MaxSize:     4,
	})
	defer pool.Close()

	raw, _ := cmd.Flags().GetBool("raw")
	eval, _ := cmd.Flags().GetString("eval")
	file, _ := cmd.Flags().GetString("file")
	pipe, _ := cmd.Flags().GetBool("pipe")

	code := cliapp.RunCLI(pool, &cliapp.Config{
		Raw:     raw,
		Eval:    eval,
		File:    file,
		Pipe:    pipe,
		Timeout: timeout,
	}, args)
	os.Exit(code)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
