package postgres

import (
	"context"
	"strings"

	"github.com/pkg/errors"

	"github.com/inkmentor/inkmentor/store"
)

func (d *DB) CreateMessage(ctx context.Context, create *store.Message) (*store.Message, error) {
	fields := []string{"uid", "conversation_id", "role", "text", "image_data", "image_media_type", "created_ts", "streaming"}
	args := []any{
		create.UID, create.ConversationID, string(create.Role), create.Text,
		create.ImageData, create.ImageMediaType, create.CreatedTs, create.Streaming,
	}

	stmt := `INSERT INTO message (` + strings.Join(fields, ", ") + `)
		VALUES (` + placeholders(len(args)) + `)
		RETURNING id`
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&create.ID); err != nil {
		return nil, errors.Wrap(err, "failed to create message")
	}

	return create, nil
}

func (d *DB) ListMessages(ctx context.Context, find *store.FindMessage) ([]*store.Message, error) {
	where, args := []string{"1 = 1"}, []any{}

	if find.ID != nil {
		where, args = append(where, "id = "+placeholder(len(args)+1)), append(args, *find.ID)
	}
	if find.UID != nil {
		where, args = append(where, "uid = "+placeholder(len(args)+1)), append(args, *find.UID)
	}
	if find.ConversationID != nil {
		where, args = append(where, "conversation_id = "+placeholder(len(args)+1)), append(args, *find.ConversationID)
	}
	if find.Streaming != nil {
		where, args = append(where, "streaming = "+placeholder(len(args)+1)), append(args, *find.Streaming)
	}

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
		set, args = append(set, "text = "+placeholder(len(args)+1)), append(args, *update.Text)
	}
	if update.Streaming != nil {
		set, args = append(set, "streaming = "+placeholder(len(args)+1)), append(args, *update.Streaming)
	}
	if len(set) == 0 {
		return nil, errors.New("no fields to update")
	}
	args = append(args, update.ID)

	stmt := `UPDATE message SET ` + strings.Join(set, ", ") + `
		WHERE id = ` + placeholder(len(args)) + `
		RETURNING id, uid, conversation_id, role, text, image_data, image_media_type, created_ts, streaming`
	m := &store.Message{}
	var role string
	if err := d.db.QueryRowContext(ctx, stmt, args...).Scan(&m.ID, &m.UID, &m.ConversationID, &role, &m.Text, &m.ImageData, &m.ImageMediaType, &m.CreatedTs, &m.Streaming); err != nil {
		return nil, errors.Wrap(err, "failed to update message")
	}
	m.Role = store.Role(role)

	return m, nil
}

func (d *DB) DeleteMessage(ctx context.Context, delete *store.DeleteMessage) error {
	if _, err := d.db.ExecContext(ctx, `DELETE FROM message WHERE id = $1`, delete.ID); err != nil {
		return errors.Wrap(err, "failed to delete message")
	}
	return nil
}

func (d *DB) DeleteMessagesFrom(ctx context.Context, conversationID int32, createdTs int64, id int32) error {
	stmt := `DELETE FROM message
		WHERE conversation_id = $1
		AND (created_ts > $2 OR (created_ts = $2 AND id >= $3))`
	if _, err := d.db.ExecContext(ctx, stmt, conversationID, createdTs, id); err != nil {
		return errors.Wrap(err, "failed to delete messages from position")
	}
	return nil
}

func (d *DB) FinalizeStreamingMessages(ctx context.Context, placeholderText string, updatedTs int64) (int64, error) {
	stmt := `UPDATE message
		SET streaming = FALSE,
			text = CASE WHEN text = '' THEN $1 ELSE text END
		WHERE streaming = TRUE`
	result, err := d.db.ExecContext(ctx, stmt, placeholderText)
	if err != nil {
		return 0, errors.Wrap(err, "failed to finalize streaming messages")
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, errors.Wrap(err, "failed to get affected rows")
	}
	if affected > 0 {
		touch := `UPDATE conversation SET updated_ts = $1
			WHERE id IN (SELECT DISTINCT conversation_id FROM message WHERE streaming = FALSE AND text = $2)`
		if _, err := d.db.ExecContext(ctx, touch, updatedTs, placeholderText); err != nil {
			return affected, errors.Wrap(err, "failed to touch conversations")
		}
	}
	return affected, nil
}
