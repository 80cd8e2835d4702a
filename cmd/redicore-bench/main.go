package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/duskfin/redicore/internal/bench"
	"github.com/duskfin/redicore/rconn"
	"github.com/duskfin/redicore/rpool"
)

var rootCmd = &cobra.Command{
	Use:   "redicore-bench",
	Short: "Load generator for a Redis-compatible server",
	Long: `Concurrent load generator built on the redicore Pool, similar to
redis-benchmark.

Examples:
  redicore-bench --requests 10000 --concurrency 50
  redicore-bench --commands PING,SET,GET --pipeline 10`,
	Run: runBenchmark,
}

func init() {
	rootCmd.Flags().String("host", "127.0.0.1", "server host")
	rootCmd.Flags().IntP("port", "p", 6379, "server port")
	rootCmd.Flags().StringP("password", "a", "", "AUTH password")
	rootCmd.Flags().Int("db", 0, "database number")

	rootCmd.Flags().Int("requests", 10000, "total number of requests")
	rootCmd.Flags().IntP("concurrency", "c", 50, "number of parallel connections")
	rootCmd.Flags().IntP("pipeline", "P", 1, "requests per pipeline batch")
	rootCmd.Flags().Duration("timeout", 5*time.Second, "per-request timeout")

	rootCmd.Flags().String("commands", "PING,SET,GET,INCR,LPUSH,RPUSH", "comma-separated commands to test")
	rootCmd.Flags().Int("data-size", 8, "size in bytes of SET/GET values")
	rootCmd.Flags().Int("keyspace", 100000, "keyspace size for random keys")

	rootCmd.Flags().BoolP("quiet", "q", false, "only show summary lines")
	rootCmd.Flags().Bool("csv", false, "output CSV")
	rootCmd.Flags().Bool("latency-hist", false, "show a latency histogram")
}

func runBenchmark(cmd *cobra.Command, _ []string) {
	host, _ := cmd.Flags().GetString("host")
	port, _ := cmd.Flags().GetInt("port")
	password, _ := cmd.Flags().GetString("password")
	db, _ := cmd.Flags().GetInt("db")
	timeout, _ := cmd.Flags().GetDuration("timeout")

	requests, _ := cmd.Flags().GetInt("requests")
	concurrency, _ := cmd.Flags().GetInt("concurrency")
	pipeline, _ := cmd.Flags().GetInt("pipeline")
	commands, _ := cmd.Flags().GetString("commands")
	dataSize, _ := cmd.Flags().GetInt("data-size")
	keyspace, _ := cmd.Flags().GetInt("keyspace")
	quiet, _ := cmd.Flags().GetBool("quiet")
	csv, _ := cmd.Flags().GetBool("csv")
	latencyHist, _ := cmd.Flags().GetBool("latency-hist")

	pool := rpool.New(rpool.Options{
		ConnOptions: rconn.Options{
			Network:      "tcp",
			Addr:         fmt.Sprintf("%s:%d", host, port),
			Password:     password,
			DB:           db,
			DialTimeout:  timeout,
			ReadTimeout:  timeout,
			WriteTimeout: timeout,
		},
		MinSize: 1,
		MaxSize: concurrency,
	})

	cfg := &bench.Config{
		Requests:    requests,
		Concurrency: concurrency,
		Pipeline:    pipeline,
		Timeout:     timeout,
		Commands:    strings.Split(commands, ","),
		DataSize:    dataSize,
		KeySpace:    keyspace,
		Quiet:       quiet,
		CSV:         csv,
		LatencyHist: latencyHist,
	}

	if !quiet {
		fmt.Printf("redicore-bench: %s:%d, %d requests, %d workers\n", host, port, requests, concurrency)
	}

	ctx, cancel := context.WithCancel(context.Background())
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		fmt.Fprintln(os.Stderr, "\nreceived interrupt, stopping...")
		cancel()
	}()

	results := bench.RunSuite(ctx, pool, cfg)
	pool.Close()
	bench.PrintResults(results, cfg)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
