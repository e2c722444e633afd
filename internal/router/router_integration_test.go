package router

import (
	"context"
	"database/sql"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"

	. "github.com/onsi/ginkgo/v2"
	. "github.com/onsi/gomega"
	"github.com/stretchr/testify/assert"

	"github.com/goranbacvar/Cyviz/internal/breaker"
	"github.com/goranbacvar/Cyviz/internal/broadcast"
	"github.com/goranbacvar/Cyviz/internal/chaos"
	"github.com/goranbacvar/Cyviz/internal/devicehub"
	"github.com/goranbacvar/Cyviz/internal/model"
	"github.com/goranbacvar/Cyviz/internal/retry"
	"github.com/goranbacvar/Cyviz/internal/store"
)

var commandColumns = []string{
	"id", "device_id", "idempotency_key", "verb", "created_at", "status", "result", "latency_ms",
}

func newIntegrationRouter(capacity int, respWait time.Duration) (*Router, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New()
	Expect(err).NotTo(HaveOccurred())
	DeferCleanup(func() { db.Close() })

	st := store.NewWithDB(sqlx.NewDb(db, "postgres"))
	devices := devicehub.New()
	bc := broadcast.New()
	breakers := breaker.New(5, 10*time.Second)
	knobs := chaos.New(0, 0, 0)
	retryCfg := retry.Config{Delays: []time.Duration{time.Millisecond}, JitterMax: 0}

	return New(st, devices, breakers, bc, knobs, retryCfg, capacity, respWait), mock
}

var _ = Describe("Router submission and reconciliation", func() {
	var ctx context.Context

	BeforeEach(func() {
		ctx = context.Background()
	})

	Describe("Enqueue", func() {
		It("reuses the existing command id on a duplicate (deviceId, idempotencyKey) submission", func() {
			r, mock := newIntegrationRouter(10, time.Minute)

			mock.ExpectQuery(`SELECT \* FROM commands WHERE device_id = \$1 AND idempotency_key = \$2`).
				WithArgs("dev-1", "key-1").
				WillReturnError(sql.ErrNoRows)
			mock.ExpectExec("INSERT INTO commands").WillReturnResult(sqlmock.NewResult(1, 1))

			first, err := r.Enqueue(ctx, "dev-1", "key-1", "power-on")
			Expect(err).NotTo(HaveOccurred())
			Expect(first.QueueFull).To(BeFalse())
			Expect(first.CommandID).NotTo(BeEmpty())

			mock.ExpectQuery(`SELECT \* FROM commands WHERE device_id = \$1 AND idempotency_key = \$2`).
				WithArgs("dev-1", "key-1").
				WillReturnRows(sqlmock.NewRows(commandColumns).
					AddRow(first.CommandID, "dev-1", "key-1", "power-on", time.Now(), "pending", nil, nil))

			second, err := r.Enqueue(ctx, "dev-1", "key-1", "power-on")
			Expect(err).NotTo(HaveOccurred())
			Expect(second.CommandID).To(Equal(first.CommandID))

			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("reports QueueFull without persisting when the dispatch queue is saturated", func() {
			r, mock := newIntegrationRouter(1, time.Minute)
			r.queue <- "occupying-slot"

			mock.ExpectQuery(`SELECT \* FROM commands WHERE device_id = \$1 AND idempotency_key = \$2`).
				WithArgs("dev-2", "key-2").
				WillReturnError(sql.ErrNoRows)

			result, err := r.Enqueue(ctx, "dev-2", "key-2", "reboot")
			Expect(err).NotTo(HaveOccurred())
			Expect(result.QueueFull).To(BeTrue())
			Expect(result.CommandID).To(BeEmpty())

			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})

	Describe("response-timeout reconciliation", func() {
		It("fails a command still pending once the response wait elapses", func() {
			r, mock := newIntegrationRouter(10, time.Millisecond)

			createdAt := time.Now().Add(-time.Second)
			mock.ExpectQuery(`SELECT \* FROM commands WHERE id = \$1`).
				WithArgs("cmd-timeout").
				WillReturnRows(sqlmock.NewRows(commandColumns).
					AddRow("cmd-timeout", "dev-3", "key-3", "reboot", createdAt, "pending", nil, nil))
			mock.ExpectExec(`UPDATE commands SET status = \$2, result = \$3, latency_ms = \$4 WHERE id = \$1 AND status = 'pending'`).
				WithArgs("cmd-timeout", model.CommandFailed, "timeout", sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, 1))

			r.scheduleTimeout("cmd-timeout")

			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("leaves a command alone once it already reached a terminal status", func() {
			r, mock := newIntegrationRouter(10, time.Millisecond)

			mock.ExpectQuery(`SELECT \* FROM commands WHERE id = \$1`).
				WithArgs("cmd-done").
				WillReturnRows(sqlmock.NewRows(commandColumns).
					AddRow("cmd-done", "dev-4", "key-4", "reboot", time.Now(), "completed", "ok", int64(42)))

			r.scheduleTimeout("cmd-done")

			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})

		It("fails with reason \"circuit open\" instead of \"timeout\" when the device breaker is tripped", func() {
			r, mock := newIntegrationRouter(10, time.Millisecond)
			for i := 0; i < 5; i++ {
				r.breakers.Execute("dev-5", func() (any, error) { return nil, assert.AnError })
			}
			Expect(r.breakers.State("dev-5").String()).To(Equal("open"))

			mock.ExpectQuery(`SELECT \* FROM commands WHERE id = \$1`).
				WithArgs("cmd-breaker").
				WillReturnRows(sqlmock.NewRows(commandColumns).
					AddRow("cmd-breaker", "dev-5", "key-5", "reboot", time.Now().Add(-time.Second), "pending", nil, nil))
			mock.ExpectExec(`UPDATE commands SET status = \$2, result = \$3, latency_ms = \$4 WHERE id = \$1 AND status = 'pending'`).
				WithArgs("cmd-breaker", model.CommandFailed, "circuit open", sqlmock.AnyArg()).
				WillReturnResult(sqlmock.NewResult(0, 1))

			r.scheduleTimeout("cmd-breaker")

			Expect(mock.ExpectationsWereMet()).To(Succeed())
		})
	})
})
