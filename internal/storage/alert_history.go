package storage

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"
	"go.uber.org/zap"

	"github.com/t77yq/watchtower/internal/model"
)

// AlertHistoryStorage archives triggered alerts and notification
// attempts for operator audit. In-process state stays authoritative;
// the journal is read back only through List queries.
type AlertHistoryStorage interface {
	// StoreAlert journals a newly triggered alert
	StoreAlert(ctx context.Context, alert *model.Alert) error

	// UpdateAlert journals an alert lifecycle change
	UpdateAlert(ctx context.Context, alert *model.Alert) error

	// StoreNotification journals one notification attempt
	StoreNotification(ctx context.Context, n *model.Notification) error

	// ListAlerts retrieves journaled alerts, newest first
	ListAlerts(ctx context.Context, status string, offset, limit int) ([]*model.Alert, error)

	// ListNotifications retrieves notification attempts for an alert
	ListNotifications(ctx context.Context, alertID string) ([]*model.Notification, error)

	// DeleteBefore deletes journal entries older than the given time
	DeleteBefore(ctx context.Context, before time.Time) error
}

// SQLiteAlertHistory implements AlertHistoryStorage using SQLite
type SQLiteAlertHistory struct {
	logger *zap.Logger
	db     *sql.DB
}

// NewSQLiteAlertHistory opens (or creates) the journal database
func NewSQLiteAlertHistory(logger *zap.Logger, dbPath string) (*SQLiteAlertHistory, error) {
	db, err := sql.Open("sqlite3", dbPath)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	storage := &SQLiteAlertHistory{
		logger: logger.Named("alert-history"),
		db:     db,
	}

	if err := storage.initialize(); err != nil {
		db.Close()
		return nil, err
	}

	return storage, nil
}

// initialize creates the necessary tables if they don't exist
func (s *SQLiteAlertHistory) initialize() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS alert_history (
			id TEXT PRIMARY KEY,
			rule_id TEXT NOT NULL,
			name TEXT NOT NULL,
			severity TEXT NOT NULL,
			status TEXT NOT NULL,
			message TEXT,
			data TEXT,
			triggered_at DATETIME NOT NULL,
			acknowledged_at DATETIME,
			resolved_at DATETIME,
			escalation_level INTEGER NOT NULL DEFAULT 0,
			notifications_sent INTEGER NOT NULL DEFAULT 0
		);
		CREATE INDEX IF NOT EXISTS idx_alert_history_rule_id ON alert_history(rule_id);
		CREATE INDEX IF NOT EXISTS idx_alert_history_status ON alert_history(status);
		CREATE INDEX IF NOT EXISTS idx_alert_history_triggered_at ON alert_history(triggered_at);

		CREATE TABLE IF NOT EXISTS notification_history (
			id TEXT PRIMARY KEY,
			alert_id TEXT NOT NULL,
			channel TEXT NOT NULL,
			recipient TEXT,
			delivered INTEGER NOT NULL,
			error TEXT,
			sent_at DATETIME NOT NULL
		);
		CREATE INDEX IF NOT EXISTS idx_notification_history_alert_id ON notification_history(alert_id);
		CREATE INDEX IF NOT EXISTS idx_notification_history_sent_at ON notification_history(sent_at);
	`)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	return nil
}

// StoreAlert implements AlertHistoryStorage.StoreAlert
func (s *SQLiteAlertHistory) StoreAlert(ctx context.Context, alert *model.Alert) error {
	var dataStr string
	if len(alert.Data) > 0 {
		encoded, err := json.Marshal(alert.Data)
		if err != nil {
			return fmt.Errorf("failed to marshal alert data: %w", err)
		}
		dataStr = string(encoded)
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO alert_history (
			id, rule_id, name, severity, status, message, data, triggered_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		alert.ID,
		alert.RuleID,
		alert.Name,
		string(alert.Severity),
		string(alert.Status),
		alert.Message,
		sql.NullString{String: dataStr, Valid: dataStr != ""},
		alert.TriggeredAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store alert history: %w", err)
	}
	return nil
}

// UpdateAlert implements AlertHistoryStorage.UpdateAlert
func (s *SQLiteAlertHistory) UpdateAlert(ctx context.Context, alert *model.Alert) error {
	var acknowledgedAt, resolvedAt sql.NullTime
	if alert.AcknowledgedAt != nil {
		acknowledgedAt = sql.NullTime{Time: *alert.AcknowledgedAt, Valid: true}
	}
	if alert.ResolvedAt != nil {
		resolvedAt = sql.NullTime{Time: *alert.ResolvedAt, Valid: true}
	}

	_, err := s.db.ExecContext(ctx, `
		UPDATE alert_history SET
			status = ?,
			acknowledged_at = ?,
			resolved_at = ?,
			escalation_level = ?,
			notifications_sent = ?
		WHERE id = ?`,
		string(alert.Status),
		acknowledgedAt,
		resolvedAt,
		alert.EscalationLevel,
		alert.NotificationsSent,
		alert.ID,
	)
	if err != nil {
		return fmt.Errorf("failed to update alert history: %w", err)
	}
	return nil
}

// StoreNotification implements AlertHistoryStorage.StoreNotification
func (s *SQLiteAlertHistory) StoreNotification(ctx context.Context, n *model.Notification) error {
	delivered := 0
	if n.Delivered {
		delivered = 1
	}

	_, err := s.db.ExecContext(ctx, `
		INSERT INTO notification_history (
			id, alert_id, channel, recipient, delivered, error, sent_at
		) VALUES (?, ?, ?, ?, ?, ?, ?)`,
		n.ID,
		n.AlertID,
		string(n.Channel),
		sql.NullString{String: n.Recipient, Valid: n.Recipient != ""},
		delivered,
		sql.NullString{String: n.Error, Valid: n.Error != ""},
		n.SentAt,
	)
	if err != nil {
		return fmt.Errorf("failed to store notification history: %w", err)
	}
	return nil
}

// ListAlerts implements AlertHistoryStorage.ListAlerts
func (s *SQLiteAlertHistory) ListAlerts(ctx context.Context, status string, offset, limit int) ([]*model.Alert, error) {
	query := `SELECT id, rule_id, name, severity, status, message, data,
		triggered_at, acknowledged_at, resolved_at, escalation_level, notifications_sent
		FROM alert_history`
	args := make([]interface{}, 0)

	if status != "" {
		query += " WHERE status = ?"
		args = append(args, status)
	}

	query += " ORDER BY triggered_at DESC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list alert history: %w", err)
	}
	defer rows.Close()

	var alerts []*model.Alert
	for rows.Next() {
		alert := &model.Alert{}
		var severity, statusStr string
		var message, dataStr sql.NullString
		var acknowledgedAt, resolvedAt sql.NullTime

		err := rows.Scan(
			&alert.ID,
			&alert.RuleID,
			&alert.Name,
			&severity,
			&statusStr,
			&message,
			&dataStr,
			&alert.TriggeredAt,
			&acknowledgedAt,
			&resolvedAt,
			&alert.EscalationLevel,
			&alert.NotificationsSent,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan alert history: %w", err)
		}

		alert.Severity = model.AlertSeverity(severity)
		alert.Status = model.AlertStatus(statusStr)
		if message.Valid {
			alert.Message = message.String
		}
		if dataStr.Valid && dataStr.String != "" {
			if err := json.Unmarshal([]byte(dataStr.String), &alert.Data); err != nil {
				return nil, fmt.Errorf("failed to unmarshal alert data: %w", err)
			}
		}
		if acknowledgedAt.Valid {
			alert.AcknowledgedAt = &acknowledgedAt.Time
		}
		if resolvedAt.Valid {
			alert.ResolvedAt = &resolvedAt.Time
		}

		alerts = append(alerts, alert)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return alerts, nil
}

// ListNotifications implements AlertHistoryStorage.ListNotifications
func (s *SQLiteAlertHistory) ListNotifications(ctx context.Context, alertID string) ([]*model.Notification, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id, alert_id, channel, recipient, delivered, error, sent_at
		FROM notification_history
		WHERE alert_id = ?
		ORDER BY sent_at ASC`, alertID)
	if err != nil {
		return nil, fmt.Errorf("failed to list notification history: %w", err)
	}
	defer rows.Close()

	var notifications []*model.Notification
	for rows.Next() {
		n := &model.Notification{}
		var channel string
		var recipient, errorStr sql.NullString
		var delivered int

		err := rows.Scan(
			&n.ID,
			&n.AlertID,
			&channel,
			&recipient,
			&delivered,
			&errorStr,
			&n.SentAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan notification history: %w", err)
		}

		n.Channel = model.ChannelType(channel)
		n.Delivered = delivered != 0
		if recipient.Valid {
			n.Recipient = recipient.String
		}
		if errorStr.Valid {
			n.Error = errorStr.String
		}

		notifications = append(notifications, n)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error during row iteration: %w", err)
	}

	return notifications, nil
}

// DeleteBefore implements AlertHistoryStorage.DeleteBefore
func (s *SQLiteAlertHistory) DeleteBefore(ctx context.Context, before time.Time) error {
	result, err := s.db.ExecContext(ctx, "DELETE FROM alert_history WHERE triggered_at < ?", before)
	if err != nil {
		return fmt.Errorf("failed to delete alert history: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to get affected rows: %w", err)
	}

	if _, err := s.db.ExecContext(ctx, "DELETE FROM notification_history WHERE sent_at < ?", before); err != nil {
		return fmt.Errorf("failed to delete notification history: %w", err)
	}

	s.logger.Info("Deleted old alert history records",
		zap.Time("before", before),
		zap.Int64("deleted", affected))

	return nil
}

// Close closes the database connection
func (s *SQLiteAlertHistory) Close() error {
	return s.db.Close()
}
