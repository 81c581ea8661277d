package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/eeredondo/pqrsd/internal/models"
)

func TestAuditAppendAssignsTimestamp(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	mock.ExpectQuery("INSERT INTO audit_events").
		WillReturnRows(sqlmock.NewRows([]string{"id"}).AddRow(int64(5)))

	event := &models.AuditEvent{RequestID: 7, Kind: models.AuditKindFiled, Sender: "Ciudadano"}
	err := repo.Append(context.Background(), event)
	require.NoError(t, err)
	assert.Equal(t, int64(5), event.ID)
	assert.False(t, event.CreatedAt.IsZero())
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestAuditHistoryOrdersAscending(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewAuditRepository(db)

	base := time.Now().Add(-time.Hour)
	rows := sqlmock.NewRows([]string{"id", "request_id", "kind", "message", "sender", "recipient", "created_at"}).
		AddRow(int64(1), int64(7), models.AuditKindFiled, nil, "Ciudadano", "Asignador", base).
		AddRow(int64(2), int64(7), models.AuditKindAssignment, nil, "Asignador", "Responsable", base.Add(time.Minute))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, request_id, kind, message, sender, recipient, created_at")).
		WithArgs(int64(7)).
		WillReturnRows(rows)

	events, err := repo.History(context.Background(), 7)
	require.NoError(t, err)
	require.Len(t, events, 2)
	assert.Equal(t, models.AuditKindFiled, events[0].Kind)
	assert.Equal(t, models.AuditKindAssignment, events[1].Kind)
	assert.True(t, events[0].CreatedAt.Before(events[1].CreatedAt))
	assert.NoError(t, mock.ExpectationsWereMet())
}
