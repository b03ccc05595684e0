package main

import (
	"context"
	"flag"
	"fmt"
	"time"

	"github.com/docchat/docchat-go/internal/data"
	"github.com/docchat/docchat-go/internal/domain/model"
	"github.com/docchat/docchat-go/internal/service"
)

func runJobStats(cmdCtx *commandContext, _ []string) error {
	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	db, err := connectDB(cmdCtx.Logger, &cmdCtx.Config)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
	}()

	jobs := service.MustNewJobService(service.JobServiceOptions{
		Repo: data.NewJobRepo(db, data.RepoConfig{}),
	})

	stats, err := jobs.Stats(ctx)
	if err != nil {
		return err
	}

	w := newTabWriter()
	fmt.Fprintln(w, "STATUS\tCOUNT")
	fmt.Fprintf(w, "pending\t%d\n", stats.Pending)
	fmt.Fprintf(w, "running\t%d\n", stats.Running)
	fmt.Fprintf(w, "done\t%d\n", stats.Done)
	fmt.Fprintf(w, "failed\t%d\n", stats.Failed)
	return w.Flush()
}

func runListJobs(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("jobs", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "maximum number of jobs to list")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse jobs flags: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	db, err := connectDB(cmdCtx.Logger, &cmdCtx.Config)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
	}()

	jobs := service.MustNewJobService(service.JobServiceOptions{
		Repo: data.NewJobRepo(db, data.RepoConfig{}),
	})

	recent, err := jobs.ListRecent(ctx, *limit)
	if err != nil {
		return err
	}

	w := newTabWriter()
	fmt.Fprintln(w, "ID\tTYPE\tSTATUS\tATTEMPTS\tRUN_AT\tLAST_ERROR")
	for _, job := range recent {
		fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\t%s\n",
			job.ID,
			job.Type,
			job.Status,
			job.Attempts,
			job.MaxAttempts,
			job.RunAt.UTC().Format(time.RFC3339),
			derefOrDash(job.LastError),
		)
	}
	return w.Flush()
}

func runListEvents(cmdCtx *commandContext, args []string) error {
	fs := flag.NewFlagSet("events", flag.ContinueOnError)
	limit := fs.Int("limit", 20, "maximum number of events to list")
	offset := fs.Int("offset", 0, "number of events to skip")
	if err := fs.Parse(args); err != nil {
		return fmt.Errorf("parse events flags: %w", err)
	}

	ctx, cancel := context.WithTimeout(cmdCtx.Ctx, defaultCommandTimeout)
	defer cancel()

	db, err := connectDB(cmdCtx.Logger, &cmdCtx.Config)
	if err != nil {
		return err
	}
	defer func() {
		if closeErr := db.Close(); closeErr != nil {
			cmdCtx.Logger.Warn("db close failed", "error", closeErr)
		}
	}()

	events, err := service.NewEventService(service.EventServiceOptions{
		DB:        db,
		EventRepo: data.NewEventRepo(db),
		JobRepo:   data.NewJobRepo(db, data.RepoConfig{}),
	})
	if err != nil {
		return err
	}

	list, err := events.List(ctx, model.EventListOptions{Limit: *limit, Offset: *offset})
	if err != nil {
		return err
	}

	w := newTabWriter()
	fmt.Fprintln(w, "ID\tTYPE\tUSER_ID\tCREATED_AT")
	for _, event := range list {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			event.ID,
			event.Type,
			derefOrDash(event.UserID),
			event.CreatedAt.UTC().Format(time.RFC3339),
		)
	}
	return w.Flush()
}

func derefOrDash(s *string) string {
	if s == nil || *s == "" {
		return "-"
	}
	return *s
}
