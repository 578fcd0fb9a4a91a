package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/dgnsrekt/livetiming-relay/internal/bootstrap"
	"github.com/dgnsrekt/livetiming-relay/internal/staging"
)

func fetchCmd() *cobra.Command {
	var (
		session string
		topics  []string
		output  string
	)

	cmd := &cobra.Command{
		Use:   "fetch",
		Short: "Fetch a session's reference snapshot from the static archive",
		Long: `Fetch downloads the reference files of a session from the static archive.
Without --output the merged {"R": {...}} block is written to stdout. With
--output the block and one file per topic are written under DIR/<session path>.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()

			if len(topics) == 0 {
				topics = cfg.Bootstrap.Topics
			}

			fetcher := newFetcher(cfg, nil, logger.Named("bootstrap"))

			sessionPath := session
			if sessionPath == "" {
				sessionPath = cfg.Bootstrap.SessionPath
			}
			if sessionPath == "" {
				resolved, err := fetcher.ResolveSessionPath(ctx)
				if err != nil {
					return fmt.Errorf("resolving session path: %w", err)
				}
				sessionPath = resolved
			}

			result, err := fetcher.FetchSession(ctx, sessionPath, topics)
			if err != nil {
				return err
			}
			for _, topicErr := range result.Errors {
				logger.Warn("topic not fetched", zap.String("topic", topicErr.Topic), zap.Error(topicErr.Err))
			}
			logger.Info("fetch complete",
				zap.String("session", result.SessionPath),
				zap.Int("success", result.Success),
				zap.Int("failed", result.Failed),
			)

			if output == "" {
				enc := json.NewEncoder(os.Stdout)
				enc.SetIndent("", "  ")
				return enc.Encode(map[string]any{"R": result.Block})
			}
			return writeSession(staging.NewManager(output), result, logger)
		},
	}

	cmd.Flags().StringVarP(&session, "session", "s", "", "archive session path (default: bootstrap.session_path or the latest session)")
	cmd.Flags().StringSliceVarP(&topics, "topics", "t", nil, "topics to fetch (default: bootstrap.topics)")
	cmd.Flags().StringVarP(&output, "output", "o", "", "directory to write the session into instead of stdout")

	return cmd
}

// writeSession stages reference.json plus one file per topic and commits them
// together.
func writeSession(stage *staging.Manager, result *bootstrap.Result, logger *zap.Logger) error {
	session := strings.Trim(result.SessionPath, "/")

	if err := stage.PrepareStaging(session); err != nil {
		return fmt.Errorf("preparing staging: %w", err)
	}

	write := func(name string, v any) error {
		var buf bytes.Buffer
		enc := json.NewEncoder(&buf)
		enc.SetIndent("", "  ")
		if err := enc.Encode(v); err != nil {
			return fmt.Errorf("encoding %s: %w", name, err)
		}
		if _, err := stage.WriteToStaging(session, name, &buf); err != nil {
			return fmt.Errorf("staging %s: %w", name, err)
		}
		return nil
	}

	if err := write("reference.json", map[string]any{"R": result.Block}); err != nil {
		_ = stage.CleanupStaging(session)
		return err
	}
	for topic, value := range result.Block {
		if err := write(topic+".json", value); err != nil {
			_ = stage.CleanupStaging(session)
			return err
		}
	}

	if err := stage.CommitStaging(session); err != nil {
		_ = stage.CleanupStaging(session)
		return fmt.Errorf("committing session: %w", err)
	}

	logger.Info("session written", zap.String("dir", stage.FinalDir(session)), zap.Int("topics", len(result.Block)))
	return nil
}
