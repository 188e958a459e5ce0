package sqlite

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/inkmentor/inkmentor/store"
)

func (d *DB) CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	stmt := `INSERT INTO message (uid, conversation_id, role, text, image_data, image_media_type, created_ts, streaming)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`
	result, err := d.db.ExecContext(ctx, stmt,
		create.UID, create.ConversationID, string(create.Role), create.Text,
		create.ImageData, create.ImageMediaType, create.CreatedTs, create.Streaming,
	)
	if err != nil {
		return nil, errors.Wrap(err, "failed to create message")
	}

	id, err := result.LastInsertId()
	if err != nil {
		return nil, errors.Wrap(err, "failed to get message id")
	}
	create.ID = int32(id)

	return create, nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = ?"), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = ?"), append(args, *find.UID)
	}
	if find.ConversationID != nil {
		where, args = append(where, "conversation_id = ?"), append(args, *find.ConversationID)
	}
	if find.Streaming != nil {
		where, args = append(where, "streaming = ?"), append(args, *find.Streaming)
	}

	// Creation time is the transcript ordering key; id breaks ties in
	// insertion order.
	query := `
		SELECT id, uid, conversation_id, role, text, image_data, image_media_type, created_ts, streaming
		FROM message
		WHERE ` + strings.Join(where, " AND ") + `
		ORDER BY created_ts ASC, id ASC`

	rows, err := d.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, errors.Wrap(err, "failed to list messages")
	}
	defer rows.Close()

	list := make([]*store.Message, 0)
	for rows.Next() {
		m := &store.Message{}
		var role string
		if err := rows.Scan(&m.ID, &m.UID, &m.ConversationID, &role, &m.Text, &m.ImageData, &m.ImageMediaType, &m.CreatedTs, &m.Streaming); err != nil {
			return nil, errors.Wrap(err, "failed to scan message")
		}
		m.Role = store.Role(role)
		list = append(list, m)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "rows error")
	}

	return list, nil
}

func (d *DB) UpdateMessage(ctx context.Context, update *store.UpdateMessage) (*store.Message, error) {
	set, args := []string{}, []any{}

	if update.Text != nil {
		set, args = append(set, "text = ?"), append(args, *update.Text)
	}
	if update.Streaming != nil {
		set, args = append(set, "streaming = ?"), append(args, *update.Streaming)
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}
	args = append(args, update.ID)

	stmt := `UPDATE message SET ` + strings.Join(set, ", ") + ` WHERE id = ?`
	if _, err := d.db.ExecContext(ctx, stmt, args...); err != nil {
		return nil, errors.Wrap(err, "failed to update message")
	}

	list, err := d.ListMessages(ctx, &store.FindMessage{ID: &update.ID})
	if err != nil {
		return nil, err
	}
	if len(list) == 0 {
		return nil, errors.Errorf("message %d not found", update.ID)
	}
	return list[0], nil
}

func (d *DB) DeleteMessage(ctx context.Context, delete *store.DeleteMessage) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM message WHERE id = ?`, delete.ID); err != nil {
		return errors.Wrap(err, "failed to delete message")
	}
	return nil
}

func (d *DB) DeleteMessagesFrom(ctx context.Context, conversationID int32, createdTs int64, id int32) error {
	stmt := `DELETE FROM message
		WHERE conversation_id = ?
		AND (created_ts > ? OR (created_ts = ? AND id >= ?))`
	if _, err := d.db.ExecContext(ctx, stmt, conversationID, createdTs, createdTs, id); err != nil {
		return errors.Wrap(err, "failed to delete messages from position")
	}
	return nil
}

func (d *DB) FinalizeStreamingMessages(ctx context.Context, placeholderText string, updatedTs int64) (int64, error) {
	stmt := `UPDATE message
		SET streaming = 0,
			text = CASE WHEN text = '' THEN ? ELSE text END
		WHERE streaming = 1`
	result, err := d.db.ExecContext(ctx, stmt, placeholderText)
	if err != nil {
		return 0, errors.Wrap(err, "failed to finalize streaming messages")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get affected rows")
	}
	if affected > 0 {
		touch := `UPDATE conversation SET updated_ts = ?
			WHERE id IN (SELECT DISTINCT conversation_id FROM message WHERE streaming = 0 AND text = ?)`
		if _, err := d.db.ExecContext(ctx, touch, updatedTs, placeholderText); err != nil {
			return affected, errors.Wrap(err, "failed to touch conversations")
		}
	}
	return affected, nil
}
