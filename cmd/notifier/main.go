package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/segmentio/kafka-go"

	"github.com/du6/yourlittleone/internal/config"
	"github.com/du6/yourlittleone/internal/events"
	"github.com/du6/yourlittleone/internal/notify"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sender := notify.NewSMTPSender(cfg.SMTPFrom, cfg.SMTPHost, cfg.SMTPAddress, cfg.SMTPPassword)
	handler := notify.NewMailHandler(sender)

	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:         cfg.KafkaBrokers,
		GroupID:         cfg.NotifierGroupID,
		Topic:           events.TopicNotificationJobs,
		MinBytes:        1e3,
		MaxBytes:        10e6,
		CommitInterval:  time.Second,
		RetentionTime:   24 * time.Hour,
		ReadLagInterval: -1,
	})
	defer reader.Close()

	processor := notify.NewProcessor(reader, handler)

	metricsSrv := &http.Server{Addr: cfg.MetricsAddress, Handler: promhttp.Handler()}
	go func() {
		log.Printf("notifier metrics listening on %s", cfg.MetricsAddress)
		if err := metricsSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Printf("metrics server error: %v", err)
		}
	}()

	done := make(chan struct{})
	go func() {
		defer close(done)
		log.Printf("notifier started (topic=%s, group=%s)", events.TopicNotificationJobs, cfg.NotifierGroupID)
		if err := processor.Run(ctx); err != nil && err != context.Canceled {
			log.Printf("notifier stopped with error: %v", err)
		}
	}()

	stop := make(chan os.Signal, 1)
	signal.Notify(stop, syscall.SIGINT, syscall.SIGTERM)
	<-stop
	log.Println("notifier shutdown requested")
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	if err := metricsSrv.Shutdown(shutdownCtx); err != nil {
		log.Printf("metrics server shutdown error: %v", err)
	}

	<-done
}
