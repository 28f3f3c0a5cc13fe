package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/usherasnick/stream-reader/fwriter"
	"github.com/usherasnick/stream-reader/kafka"
	streamio "github.com/usherasnick/stream-reader/stream-io"
	"github.com/usherasnick/stream-reader/tpsctrl"
)

type options struct {
	hwm       int
	chunkSize int
	rate      int
	timeout   time.Duration
	logLevel  string
	output    string
}

// newRootCommand 构造streamcat命令.
func newRootCommand() *cobra.Command {
	opts := &options{}
	root := &cobra.Command{
		Use:           "streamcat",
		Short:         "Copy a push-mode source to stdout through a StreamReader",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			lvl, err := zerolog.ParseLevel(strings.ToLower(opts.logLevel))
			if err != nil {
				return fmt.Errorf("invalid --log-level: %w", err)
			}
			zerolog.SetGlobalLevel(lvl)
			return nil
		},
	}

	root.PersistentFlags().IntVar(&opts.hwm, "hwm", streamio.DefaultHighWaterMark, "Backpressure threshold in bytes")
	root.PersistentFlags().IntVar(&opts.chunkSize, "chunk-size", 16*1024, "Chunk size in bytes for file sources")
	root.PersistentFlags().IntVar(&opts.rate, "rate", 0, "Throughput limit in bytes per second (0 = unlimited)")
	root.PersistentFlags().DurationVar(&opts.timeout, "timeout", 0, "Abort the copy after this duration (0 = no timeout)")
	root.PersistentFlags().StringVarP(&opts.output, "output", "o", "", "Write to this file instead of stdout, replaced only when the copy succeeds")
	root.PersistentFlags().StringVar(&opts.logLevel, "log-level", "info", "Log level: debug|info|warn|error")

	root.AddCommand(newFileCommand(opts), newKafkaCommand(opts))
	return root
}

// newFileCommand 构造`file`子命令.
func newFileCommand(opts *options) *cobra.Command {
	return &cobra.Command{
		Use:   "file [path]",
		Short: "Stream a file (or stdin when path is omitted or \"-\")",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var in io.Reader = cmd.InOrStdin()
			if len(args) == 1 && args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return fmt.Errorf("failed to open %s: %w", args[0], err)
				}
				in = f
			}

			src := streamio.NewReaderSource(in, &streamio.ReaderSourceCfg{
				ChunkSize:     opts.chunkSize,
				HighWaterMark: opts.hwm,
				BytesPerSec:   opts.rate,
			})
			return pipe(cmd.Context(), opts, src, nil, cmd.OutOrStdout())
		},
	}
}

// newKafkaCommand 构造`kafka`子命令.
func newKafkaCommand(opts *options) *cobra.Command {
	cfg := &kafka.Config{}
	kafkaCmd := &cobra.Command{
		Use:   "kafka",
		Short: "Stream the message values of one kafka partition",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if len(cfg.Brokers) == 0 || cfg.Topic == "" {
				return errors.New("--brokers and --topic are required")
			}
			cfg.HighWaterMark = opts.hwm

			src, closeFn, err := kafka.ConsumePartition(cfg)
			if err != nil {
				return err
			}
			defer closeFn()

			var throttle func(io.Reader) io.Reader
			if opts.rate > 0 {
				throttle = tpsctrl.NewTPSController(opts.rate).Throttle
			}
			return pipe(cmd.Context(), opts, src, throttle, cmd.OutOrStdout())
		},
	}
	kafkaCmd.Flags().StringSliceVar(&cfg.Brokers, "brokers", nil, "Kafka broker addresses")
	kafkaCmd.Flags().StringVar(&cfg.Topic, "topic", "", "Topic")
	kafkaCmd.Flags().Int32Var(&cfg.Partition, "partition", 0, "Partition")
	kafkaCmd.Flags().Int64Var(&cfg.Offset, "offset", -1, "Start offset (negative = see --from-oldest)")
	kafkaCmd.Flags().Int64Var(&cfg.EndOffset, "end-offset", 0, "Stop before this offset (0 = until closed)")
	kafkaCmd.Flags().BoolVar(&cfg.FromOldest, "from-oldest", false, "Start from the oldest offset when --offset is negative")
	kafkaCmd.Flags().StringVar(&cfg.ClientID, "client-id", "streamcat", "Kafka client id")
	return kafkaCmd
}

// pipe 通过StreamReader把src的数据复制到w, 指定--output时写入文件.
// ctx被取消或超时后销毁reader.
func pipe(ctx context.Context, opts *options, src streamio.Source, throttle func(io.Reader) io.Reader, w io.Writer) (err error) {
	if opts.output != "" {
		sink, cerr := fwriter.Create(opts.output)
		if cerr != nil {
			src.Destroy(cerr)
			return cerr
		}
		defer func() {
			if ferr := sink.Finish(err); ferr != nil && err == nil {
				err = fmt.Errorf("failed to commit %s: %w", opts.output, ferr)
			}
		}()
		w = sink
	}
	if opts.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, opts.timeout)
		defer cancel()
	}

	r := streamio.NewStreamReader(src)
	rc := streamio.AsReader(ctx, r)
	defer rc.Close() // nolint

	var in io.Reader = rc
	if throttle != nil {
		in = throttle(rc)
	}

	start := time.Now()
	n, err := io.Copy(w, in)
	log.Debug().Msgf("copied %d bytes in %s", n, time.Since(start))
	if err != nil {
		return fmt.Errorf("copy aborted after %d bytes: %w", n, err)
	}
	return nil
}
