package main

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/yourusername/paper-forge-worker/internal/invoke"
	"github.com/yourusername/paper-forge-worker/internal/jobs"
	"github.com/yourusername/paper-forge-worker/internal/stream"
)

// newSubmitCommand は受信チャネルへジョブを1件送るコマンドを作成します。
// --wait を付けると応答チャネルで同じ jobId の終端応答を待ちます。
func newSubmitCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "submit <event>",
		Short: "Publish a job frame to the job channel",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			jobID := viper.GetString("job-id")
			if jobID == "" {
				jobID = uuid.NewString()
			}
			data := viper.GetString("data")
			if data != "" && !json.Valid([]byte(data)) {
				return fmt.Errorf("--data must be valid json")
			}

			opt, err := redis.ParseURL(viper.GetString("redis-url"))
			if err != nil {
				return fmt.Errorf("failed to parse redis url: %w", err)
			}
			rdb := redis.NewClient(opt)
			defer rdb.Close()

			ctx := cmd.Context()
			var responses *redis.PubSub
			if viper.GetBool("wait") {
				responses = rdb.Subscribe(ctx, viper.GetString("response-channel"))
				defer responses.Close()
				if _, err := responses.Receive(ctx); err != nil {
					return fmt.Errorf("failed to subscribe responses: %w", err)
				}
			}

			frames := []string{args[0], jobID, viper.GetString("user-id"), viper.GetString("email"), data}
			if err := stream.NewPublisher(rdb, viper.GetString("job-channel")).Publish(ctx, frames...); err != nil {
				return err
			}
			logrus.WithFields(logrus.Fields{"jobId": jobID, "event": args[0]}).Info("job submitted")

			if responses == nil {
				return nil
			}
			return awaitResponse(ctx, responses, jobID, viper.GetDuration("timeout"), cmd)
		},
	}

	flags := cmd.Flags()
	flags.String("job-id", "", "Job id (generated when empty)")
	flags.String("user-id", "", "Acting user id")
	flags.String("email", "", "Acting user email, resolved to a user id by the worker")
	flags.String("data", "{}", "Job payload as json")
	flags.String("redis-url", "redis://127.0.0.1:6379/0", "Pub/Sub redis url (REDIS_URL)")
	flags.String("job-channel", "docworker:jobs", "Job channel (JOB_CHANNEL)")
	flags.String("response-channel", "docworker:responses", "Response channel (RESPONSE_CHANNEL)")
	flags.Bool("wait", false, "Wait for the terminal response")
	flags.Duration("timeout", 2*time.Minute, "How long --wait waits")

	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		bindFlags(cmd, "job-id", "user-id", "email", "data", "redis-url", "job-channel", "response-channel", "wait", "timeout")
	}
	return cmd
}

func awaitResponse(ctx context.Context, sub *redis.PubSub, jobID string, timeout time.Duration, cmd *cobra.Command) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	msgs := sub.Channel()
	for {
		select {
		case <-ctx.Done():
			return fmt.Errorf("no response for job %s: %w", jobID, ctx.Err())
		case msg := <-msgs:
			frames, err := stream.DecodeFrames(msg.Payload)
			if err != nil || len(frames) != 3 || frames[1] != jobID {
				continue
			}
			var resp jobs.JobResponse
			if err := json.Unmarshal([]byte(frames[2]), &resp); err != nil {
				return fmt.Errorf("malformed response: %w", err)
			}
			fmt.Fprintln(cmd.OutOrStdout(), frames[2])
			if resp.Error {
				return fmt.Errorf("job %s failed: %s", jobID, resp.Message)
			}
			return nil
		}
	}
}

// newCompleteCommand は前処理ファンクションの代わりに完了通知を投入するコマンドを作成します。
func newCompleteCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "complete",
		Short: "Enqueue a preprocess completion as the preprocess function would",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := invoke.NewClient(viper.GetString("queue-redis-url"), viper.GetString("invoke-queue"), viper.GetString("completion-queue"))
			if err != nil {
				return err
			}
			defer client.Close()

			done := invoke.Completion{
				JobID:      viper.GetString("job-id"),
				DocumentID: viper.GetString("document-id"),
				JobType:    string(jobs.JobPreprocess),
				ResultKey:  viper.GetString("result-key"),
			}
			if msg := viper.GetString("fail"); msg != "" {
				done.Error = true
				done.Message = msg
			}
			if err := client.SendCompletion(cmd.Context(), done); err != nil {
				return err
			}
			logrus.WithField("jobId", done.JobID).Info("completion enqueued")
			return nil
		},
	}

	flags := cmd.Flags()
	flags.String("job-id", "", "Job id of the deferred pdf_preprocess job")
	flags.String("document-id", "", "Document id")
	flags.String("result-key", "", "Storage key of the preprocessed pdf")
	flags.String("fail", "", "Report a failure with this message instead of a result")
	flags.String("queue-redis-url", "redis://127.0.0.1:6379/1", "Asynq redis url (QUEUE_REDIS_URL)")
	flags.String("invoke-queue", "invoke", "Invoke queue (INVOKE_QUEUE)")
	flags.String("completion-queue", "completion", "Completion queue (COMPLETION_QUEUE)")
	_ = cmd.MarkFlagRequired("job-id")
	_ = cmd.MarkFlagRequired("document-id")

	cmd.PreRun = func(cmd *cobra.Command, args []string) {
		bindFlags(cmd, "job-id", "document-id", "result-key", "fail", "queue-redis-url", "invoke-queue", "completion-queue")
	}
	return cmd
}

// bindFlags はフラグを viper に結び付けます。未指定のフラグは同名の環境変数で補われます。
func bindFlags(cmd *cobra.Command, names ...string) {
	for _, name := range names {
		_ = viper.BindPFlag(name, cmd.Flags().Lookup(name))
	}
}
