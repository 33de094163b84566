package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"

	"chanpub/internal/channel"
	"chanpub/internal/config"
	"chanpub/internal/eventloop"
	"chanpub/internal/producer"
	"chanpub/internal/publisher"
	"chanpub/pkg/stream"
)

type streamElement struct {
	Index int64 `json:"index"`
	Value int64 `json:"value"`
}

func (a *app) newStreamCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "stream",
		Short: "Drive one producer through a publisher and print every element",
		Args:  cobra.NoArgs,
	}
	cmd.Flags().Int64("elements", 0, "stream length")
	cmd.Flags().Int64("initial", 0, "elements fired before subscribing")
	cmd.Flags().Int("batch-size", 0, "elements per upstream read")
	cmd.Flags().Bool("close", false, "end the stream by closing the channel")
	cmd.Flags().Int("scheduled-delay-ms", 0, "delay before every batch")
	cmd.Flags().Int64("fail-at", 0, "fail when the sequence reaches this value")
	cmd.Flags().Int64("request-batch", 0, "elements requested at a time")
	cmd.Flags().String("output", "", "element format: text or json")

	cmd.RunE = a.withConfig([]flagBinding{
		{flag: "elements", key: "producer.elements"},
		{flag: "initial", key: "producer.initial"},
		{flag: "batch-size", key: "producer.batch_size"},
		{flag: "close", key: "producer.close"},
		{flag: "scheduled-delay-ms", key: "producer.scheduled_delay_ms"},
		{flag: "fail-at", key: "producer.fail_at"},
		{flag: "request-batch", key: "stream.request_batch"},
		{flag: "output", key: "stream.output"},
	}, a.runStream)

	return cmd
}

func (a *app) runStream(ctx context.Context) (err error) {
	cfg := a.cfg
	if timeout := cfg.Stream.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	loop := eventloop.New(eventloop.WithName("stream"), eventloop.WithLogger(a.logger))
	defer func() {
		stopCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultShutdownTimeout)
		defer cancel()
		if stopErr := loop.Stop(stopCtx); stopErr != nil {
			err = errors.Join(err, fmt.Errorf("stop loop: %w", stopErr))
		}
	}()

	registry := prometheus.NewRegistry()
	metrics, err := publisher.NewMetrics(registry)
	if err != nil {
		return fmt.Errorf("stream: %w", err)
	}
	pub, err := startStream(loop, cfg.Producer,
		publisher.WithName(cfg.Publisher.Name),
		publisher.WithWaterMarks(cfg.Publisher.WaterMarks()),
		publisher.WithLogger(a.logger),
		publisher.WithMetrics(metrics),
	)
	if err != nil {
		return fmt.Errorf("stream: %w", err)
	}
	a.logger.InfoContext(ctx, "stream started",
		"publisher_id", pub.ID(),
		"elements", cfg.Producer.Elements,
		"request_batch", cfg.Stream.RequestBatch,
	)

	var index int64
	for value, pullErr := range stream.Pull[int64](ctx, pub, cfg.Stream.RequestBatch) {
		if pullErr != nil {
			return fmt.Errorf("stream: %w", pullErr)
		}
		if err := writeElement(a.stdout, cfg.Stream.Output, streamElement{Index: index, Value: value}); err != nil {
			return fmt.Errorf("stream: %w", err)
		}
		index++
	}

	snapshot, err := pub.Snapshot(ctx)
	if err != nil {
		return fmt.Errorf("stream: %w", err)
	}
	pauses, err := counterTotal(registry, "chanpub_read_pauses_total")
	if err != nil {
		return fmt.Errorf("stream: %w", err)
	}
	a.logger.InfoContext(ctx, "stream finished",
		"publisher_id", snapshot.ID,
		"state", snapshot.State,
		"delivered", snapshot.Delivered,
		"read_pauses", pauses,
	)

	return nil
}

// startStream wires a batched producer to a new publisher. Values below
// cfg.Initial are fired before the channel registers so they wait in the
// publisher buffer for the subscriber.
func startStream(loop *eventloop.Loop, cfg config.ProducerConfig, options ...publisher.Option) (*publisher.Publisher[int64], error) {
	pub, err := publisher.New[int64](loop, options...)
	if err != nil {
		return nil, err
	}

	producerOptions := []producer.Option{
		producer.Sequence(cfg.Initial),
		producer.BatchSize(cfg.BatchSize),
	}
	if cfg.Close {
		producerOptions = append(producerOptions, producer.CloseOn(cfg.Elements))
	} else {
		producerOptions = append(producerOptions, producer.FinishOn(cfg.Elements))
	}
	if cfg.FailAt >= 0 {
		producerOptions = append(producerOptions, producer.FailOn(cfg.FailAt, nil))
	}
	if delay := cfg.ScheduledDelay(); delay > 0 {
		producerOptions = append(producerOptions, producer.Scheduled(delay))
	}

	ch := channel.New[int64](loop, producer.NewBatched(producerOptions...), pub.Handler())
	if err := producer.Prefill(ch, min(cfg.Initial, cfg.Elements)); err != nil {
		return nil, err
	}
	if cfg.Elements <= cfg.Initial {
		err = ch.Close()
	} else {
		err = ch.Register()
	}
	if err != nil {
		return nil, err
	}

	return pub, nil
}

func writeElement(w io.Writer, format string, element streamElement) error {
	switch format {
	case "json":
		if err := json.NewEncoder(w).Encode(element); err != nil {
			return fmt.Errorf("encode element %d: %w", element.Index, err)
		}
	case "text":
		if _, err := fmt.Fprintln(w, element.Value); err != nil {
			return fmt.Errorf("write element %d: %w", element.Index, err)
		}
	default:
		return fmt.Errorf("unsupported output format %q", format)
	}

	return nil
}
