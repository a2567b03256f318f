package main

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/serenemind/mindsession/libs/config"
	"github.com/serenemind/mindsession/libs/db"
	"github.com/serenemind/mindsession/libs/httpx"
	"github.com/serenemind/mindsession/libs/kafkax"
	otelx "github.com/serenemind/mindsession/libs/otel"
	"github.com/serenemind/mindsession/libs/runtime"
	"github.com/serenemind/mindsession/services/notification-service/internal/consumer"
	"github.com/serenemind/mindsession/services/notification-service/internal/email"
	"github.com/serenemind/mindsession/services/notification-service/internal/inbox"
	"github.com/serenemind/mindsession/services/notification-service/internal/storage"
)

type appointmentEvent struct {
	AppointmentID string `json:"appointment_id"`
	UserID        string `json:"user_id"`
	TherapistID   string `json:"therapist_id"`
	SlotDate      string `json:"slot_date"`
	SlotTime      string `json:"slot_time"`
	Amount        int    `json:"amount"`
	UserName      string `json:"user_name"`
	UserEmail     string `json:"user_email"`
	TherapistName string `json:"therapist_name"`
	Speciality    string `json:"speciality"`
}

func bookedEmail(evt appointmentEvent) (subject, body string) {
	subject = "Your session is booked"
	body = fmt.Sprintf(
		"Hi %s,\r\n\r\nYour session with %s (%s) is confirmed for %s at %s.\r\nSession fee: %d.\r\n\r\nYou can cancel up to two days before the session date.\r\n",
		evt.UserName, evt.TherapistName, evt.Speciality, evt.SlotDate, evt.SlotTime, evt.Amount,
	)
	return subject, body
}

func cancelledEmail(evt appointmentEvent) (subject, body string) {
	subject = "Your session was cancelled"
	body = fmt.Sprintf(
		"Hi %s,\r\n\r\nYour session with %s on %s at %s has been cancelled. The slot has been released.\r\n",
		evt.UserName, evt.TherapistName, evt.SlotDate, evt.SlotTime,
	)
	return subject, body
}

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8082")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	inboxRepo := inbox.NewRepository(pool)
	notificationsRepo := storage.NewRepository(pool)

	emailSender := email.NewSMTPSender(
		config.String("SMTP_HOST", "mailpit"),
		config.String("SMTP_PORT", "1025"),
		config.String("SMTP_FROM", "no-reply@mindsession.local"),
		config.String("SMTP_USERNAME", ""),
		config.String("SMTP_PASSWORD", ""),
	)

	brokers := config.String("KAFKA_BROKERS", "")
	groupID := config.String("KAFKA_GROUP_ID", "notification-service")

	startConsumer := func(topic, kind string, build func(appointmentEvent) (string, string)) {
		if strings.TrimSpace(topic) == "" {
			return
		}
		eventConsumer := consumer.New(logger, inboxRepo, consumer.Config{
			Brokers: brokers,
			GroupID: groupID,
			Topic:   topic,
		}, func(ctx context.Context, msg kafka.Message) error {
			var evt appointmentEvent
			if err := json.Unmarshal(msg.Value, &evt); err != nil {
				logger.Error("invalid event payload", "err", err, "topic", msg.Topic)
				return nil
			}
			if evt.AppointmentID == "" || evt.UserEmail == "" {
				logger.Error("missing required event fields", "topic", msg.Topic)
				return nil
			}

			status := "sent"
			reason := ""
			subject, body := build(evt)
			if err := emailSender.Send(evt.UserEmail, subject, body); err != nil {
				status = "failed"
				reason = err.Error()
				logger.Error("email send failed", "err", err, "recipient", evt.UserEmail)
			}

			if err := notificationsRepo.Insert(ctx, storage.Notification{
				AppointmentID: evt.AppointmentID,
				UserID:        evt.UserID,
				Kind:          kind,
				Recipient:     evt.UserEmail,
				Payload: map[string]any{
					"therapist_name": evt.TherapistName,
					"slot_date":      evt.SlotDate,
					"slot_time":      evt.SlotTime,
				},
				Status: status,
				Reason: reason,
			}); err != nil {
				logger.Error("failed to persist notification", "err", err)
				return err
			}

			logger.Info("notification processed",
				"appointment_id", evt.AppointmentID,
				"kind", kind,
				"status", status,
			)
			return nil
		})
		go eventConsumer.Run(ctx)
	}

	startConsumer(config.String("KAFKA_BOOKED_TOPIC", "booking.appointment.booked.v1"), "booked", bookedEmail)
	startConsumer(config.String("KAFKA_CANCELLED_TOPIC", "booking.appointment.cancelled.v1"), "cancelled", cancelledEmail)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "notification")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
