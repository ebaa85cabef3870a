package durablestore

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store is the relational home for Projects, Conversations, their archived
// transcripts, and classification results. All compound read-modify-write
// operations (the active-conversation election, the close transition) run
// inside a single transaction acquired via WithTx.
type Store struct {
	pool *pgxpool.Pool
}

func NewStore(pool *pgxpool.Pool) *Store {
	return &Store{pool: pool}
}

// querier is satisfied by both *pgxpool.Pool and pgx.Tx, letting read
// helpers run either standalone or inside a caller's transaction.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn pgx.CommandTag, err error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// WithTx runs fn inside a transaction, committing on nil error and rolling
// back otherwise.
func (s *Store) WithTx(ctx context.Context, fn func(tx pgx.Tx) error) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	if err := fn(tx); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// UpsertProject creates Project if id hasn't been seen before. Existing
// rows are left untouched — Projects are immutable once created.
func (s *Store) UpsertProject(ctx context.Context, q querier, id uuid.UUID) (Project, error) {
	var p Project
	row := q.QueryRow(ctx, `
		INSERT INTO projects (id, created_at)
		VALUES ($1, now())
		ON CONFLICT (id) DO UPDATE SET id = projects.id
		RETURNING id, name, created_at
	`, id)
	if err := row.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
		return Project{}, fmt.Errorf("upsert project %s: %w", id, err)
	}
	return p, nil
}

// FindActiveConversationsForUpdate locks and returns every IN_PROGRESS
// conversation for (project, contact, channel), most recent first. Must be
// called within a transaction so the row locks held survive into whatever
// the caller does next (promote one, demote the rest).
func (s *Store) FindActiveConversationsForUpdate(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, contactURN string, channelUUID uuid.UUID) ([]Conversation, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, project_id, contact_urn, contact_name, channel_uuid, external_id,
		       start_date, end_date, has_chats_room, csat, nps, resolution, created_at, updated_at
		FROM conversations
		WHERE project_id = $1 AND contact_urn = $2 AND channel_uuid = $3 AND resolution = $4
		ORDER BY created_at DESC
		FOR UPDATE
	`, projectID, contactURN, channelUUID, ResolutionInProgress)
	if err != nil {
		return nil, fmt.Errorf("query active conversations: %w", err)
	}
	defer rows.Close()
	return scanConversations(rows)
}

// FindMostRecentConversation returns the latest conversation for (project,
// contact, channel) regardless of resolution — the lookup ApplyWindow uses
// to decide whether it is updating or creating.
func (s *Store) FindMostRecentConversation(ctx context.Context, tx pgx.Tx, projectID uuid.UUID, contactURN string, channelUUID uuid.UUID) (*Conversation, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, project_id, contact_urn, contact_name, channel_uuid, external_id,
		       start_date, end_date, has_chats_room, csat, nps, resolution, created_at, updated_at
		FROM conversations
		WHERE project_id = $1 AND contact_urn = $2 AND channel_uuid = $3
		ORDER BY created_at DESC
		LIMIT 1
		FOR UPDATE
	`, projectID, contactURN, channelUUID)

	c, err := scanConversation(row)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("query most recent conversation: %w", err)
	}
	return &c, nil
}

func (s *Store) CreateConversation(ctx context.Context, tx pgx.Tx, c Conversation) (Conversation, error) {
	if c.ID == uuid.Nil {
		c.ID = uuid.New()
	}
	row := tx.QueryRow(ctx, `
		INSERT INTO conversations (
			id, project_id, contact_urn, contact_name, channel_uuid, external_id,
			start_date, end_date, has_chats_room, csat, nps, resolution, created_at, updated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, now(), now())
		RETURNING id, project_id, contact_urn, contact_name, channel_uuid, external_id,
		          start_date, end_date, has_chats_room, csat, nps, resolution, created_at, updated_at
	`, c.ID, c.ProjectID, c.ContactURN, c.ContactName, c.ChannelUUID, c.ExternalID,
		c.StartDate, c.EndDate, c.HasChatsRoom, c.CSAT, c.NPS, c.Resolution)

	created, err := scanConversation(row)
	if err != nil {
		return Conversation{}, fmt.Errorf("create conversation: %w", err)
	}
	return created, nil
}

// DemoteToUnclassified marks every id UNCLASSIFIED. Used to heal
// duplicate-active-conversation situations: the most recent survives, the
// rest are demoted.
func (s *Store) DemoteToUnclassified(ctx context.Context, tx pgx.Tx, ids []uuid.UUID) error {
	if len(ids) == 0 {
		return nil
	}
	_, err := tx.Exec(ctx, `
		UPDATE conversations SET resolution = $1, updated_at = now()
		WHERE id = ANY($2)
	`, ResolutionUnclassified, ids)
	if err != nil {
		return fmt.Errorf("demote conversations: %w", err)
	}
	return nil
}

// ConversationPatch is a partial write to a Conversation; nil fields are
// left unchanged. Used by both ApplyWindow and UpdateFields.
type ConversationPatch struct {
	ContactName  *string
	ExternalID   *string
	StartDate    *time.Time
	EndDate      *time.Time
	HasChatsRoom *bool
	CSAT         *string
	NPS          *int
	Resolution   *Resolution
}

func (s *Store) UpdateConversation(ctx context.Context, tx pgx.Tx, id uuid.UUID, patch ConversationPatch) (Conversation, error) {
	row := tx.QueryRow(ctx, `
		UPDATE conversations SET
			contact_name   = COALESCE($2, contact_name),
			external_id    = COALESCE($3, external_id),
			start_date     = COALESCE($4, start_date),
			end_date       = COALESCE($5, end_date),
			has_chats_room = COALESCE($6, has_chats_room),
			csat           = COALESCE($7, csat),
			nps            = COALESCE($8, nps),
			resolution     = COALESCE($9, resolution),
			updated_at     = now()
		WHERE id = $1
		RETURNING id, project_id, contact_urn, contact_name, channel_uuid, external_id,
		          start_date, end_date, has_chats_room, csat, nps, resolution, created_at, updated_at
	`, id, patch.ContactName, patch.ExternalID, patch.StartDate, patch.EndDate,
		patch.HasChatsRoom, patch.CSAT, patch.NPS, patch.Resolution)

	updated, err := scanConversation(row)
	if err != nil {
		return Conversation{}, fmt.Errorf("update conversation %s: %w", id, err)
	}
	return updated, nil
}

func (s *Store) GetConversation(ctx context.Context, q querier, id uuid.UUID) (Conversation, error) {
	row := q.QueryRow(ctx, `
		SELECT id, project_id, contact_urn, contact_name, channel_uuid, external_id,
		       start_date, end_date, has_chats_room, csat, nps, resolution, created_at, updated_at
		FROM conversations WHERE id = $1
	`, id)
	return scanConversation(row)
}

// FindConversation is GetConversation for callers outside this package.
func (s *Store) FindConversation(ctx context.Context, id uuid.UUID) (Conversation, error) {
	return s.GetConversation(ctx, s.pool, id)
}

// ListProjects returns every known project, for the billing aggregator's
// daily sweep.
func (s *Store) ListProjects(ctx context.Context) ([]Project, error) {
	rows, err := s.pool.Query(ctx, `SELECT id, name, created_at FROM projects ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}
	defer rows.Close()

	var projects []Project
	for rows.Next() {
		var p Project
		if err := rows.Scan(&p.ID, &p.Name, &p.CreatedAt); err != nil {
			return nil, fmt.Errorf("scan project: %w", err)
		}
		projects = append(projects, p)
	}
	return projects, rows.Err()
}

// UpsertArchivedMessages writes or replaces the ordered transcript for a
// conversation. Called only by the Migration Service.
func (s *Store) UpsertArchivedMessages(ctx context.Context, q querier, conversationID uuid.UUID, messages []ArchivedMessage) error {
	payload, err := json.Marshal(messages)
	if err != nil {
		return fmt.Errorf("marshal archived messages: %w", err)
	}
	_, err = q.Exec(ctx, `
		INSERT INTO archived_messages (conversation_id, messages, created_at, updated_at)
		VALUES ($1, $2, now(), now())
		ON CONFLICT (conversation_id) DO UPDATE
		SET messages = EXCLUDED.messages, updated_at = now()
	`, conversationID, payload)
	if err != nil {
		return fmt.Errorf("upsert archived messages for %s: %w", conversationID, err)
	}
	return nil
}

// ArchiveMessages is UpsertArchivedMessages for callers outside this
// package that have no transaction of their own to thread through, such as
// the Migration Service.
func (s *Store) ArchiveMessages(ctx context.Context, conversationID uuid.UUID, messages []ArchivedMessage) error {
	return s.UpsertArchivedMessages(ctx, s.pool, conversationID, messages)
}

func (s *Store) GetArchivedMessages(ctx context.Context, q querier, conversationID uuid.UUID) (ArchivedMessages, error) {
	var raw []byte
	am := ArchivedMessages{ConversationID: conversationID}
	err := q.QueryRow(ctx, `
		SELECT messages, created_at, updated_at FROM archived_messages WHERE conversation_id = $1
	`, conversationID).Scan(&raw, &am.CreatedAt, &am.UpdatedAt)
	if err != nil {
		return ArchivedMessages{}, fmt.Errorf("get archived messages for %s: %w", conversationID, err)
	}
	if err := json.Unmarshal(raw, &am.Messages); err != nil {
		return ArchivedMessages{}, fmt.Errorf("unmarshal archived messages for %s: %w", conversationID, err)
	}
	return am, nil
}

// FindArchivedMessages is GetArchivedMessages for callers outside this
// package, such as the classification worker.
func (s *Store) FindArchivedMessages(ctx context.Context, conversationID uuid.UUID) (ArchivedMessages, error) {
	return s.GetArchivedMessages(ctx, s.pool, conversationID)
}

// UpsertClassification writes (or replaces) the classification result for
// a conversation after close.
func (s *Store) UpsertClassification(ctx context.Context, q querier, c Classification) error {
	_, err := q.Exec(ctx, `
		INSERT INTO classifications (conversation_id, topic_id, sub_topic_id, confidence, created_at, updated_at)
		VALUES ($1, $2, $3, $4, now(), now())
		ON CONFLICT (conversation_id) DO UPDATE
		SET topic_id = EXCLUDED.topic_id, sub_topic_id = EXCLUDED.sub_topic_id,
		    confidence = EXCLUDED.confidence, updated_at = now()
	`, c.ConversationID, c.TopicID, c.SubTopicID, c.Confidence)
	if err != nil {
		return fmt.Errorf("upsert classification for %s: %w", c.ConversationID, err)
	}
	return nil
}

// SaveClassification is UpsertClassification for callers outside this
// package, such as the classification worker.
func (s *Store) SaveClassification(ctx context.Context, c Classification) error {
	return s.UpsertClassification(ctx, s.pool, c)
}

// Topics is ListTopics for callers outside this package.
func (s *Store) Topics(ctx context.Context) ([]TopicWithSubTopics, error) {
	return s.ListTopics(ctx, s.pool)
}

// TopicWithSubTopics is the shape the classification worker sends to the
// remote classifier.
type TopicWithSubTopics struct {
	Topic
	SubTopics []SubTopic
}

func (s *Store) ListTopics(ctx context.Context, q querier) ([]TopicWithSubTopics, error) {
	rows, err := q.Query(ctx, `SELECT id, name, description FROM topics ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list topics: %w", err)
	}
	defer rows.Close()

	byID := map[uuid.UUID]*TopicWithSubTopics{}
	var ordered []uuid.UUID
	for rows.Next() {
		var t Topic
		if err := rows.Scan(&t.ID, &t.Name, &t.Description); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		byID[t.ID] = &TopicWithSubTopics{Topic: t}
		ordered = append(ordered, t.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}

	subRows, err := q.Query(ctx, `SELECT id, topic_id, name, description FROM sub_topics ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("list sub_topics: %w", err)
	}
	defer subRows.Close()
	for subRows.Next() {
		var st SubTopic
		if err := subRows.Scan(&st.ID, &st.TopicID, &st.Name, &st.Description); err != nil {
			return nil, fmt.Errorf("scan sub_topic: %w", err)
		}
		if parent, ok := byID[st.TopicID]; ok {
			parent.SubTopics = append(parent.SubTopics, st)
		}
	}
	if err := subRows.Err(); err != nil {
		return nil, err
	}

	result := make([]TopicWithSubTopics, 0, len(ordered))
	for _, id := range ordered {
		result = append(result, *byID[id])
	}
	return result, nil
}

// AggregateChannelResolutionCounts groups conversations created on date by
// channel_uuid and tallies each resolution bucket. This is the "single
// grouped scan over the target date" the billing aggregator is required
// to issue with no locking.
func (s *Store) AggregateChannelResolutionCounts(ctx context.Context, q querier, projectID uuid.UUID, date time.Time) ([]ChannelResolutionCount, error) {
	dayStart := time.Date(date.Year(), date.Month(), date.Day(), 0, 0, 0, 0, time.UTC)
	dayEnd := dayStart.Add(24 * time.Hour)

	rows, err := q.Query(ctx, `
		SELECT
			channel_uuid,
			count(*) FILTER (WHERE resolution = 0)                             AS resolved,
			count(*) FILTER (WHERE resolution = 1)                             AS unresolved,
			count(*) FILTER (WHERE resolution = 4 OR has_chats_room)           AS has_chats_rooms,
			count(*) FILTER (WHERE resolution = 3)                             AS unclassified
		FROM conversations
		WHERE project_id = $1 AND channel_uuid IS NOT NULL
		  AND created_at >= $2 AND created_at < $3
		GROUP BY channel_uuid
	`, projectID, dayStart, dayEnd)
	if err != nil {
		return nil, fmt.Errorf("aggregate channel resolution counts: %w", err)
	}
	defer rows.Close()

	var counts []ChannelResolutionCount
	for rows.Next() {
		var c ChannelResolutionCount
		if err := rows.Scan(&c.ChannelUUID, &c.Resolved, &c.Unresolved, &c.HasChatsRooms, &c.Unclassified); err != nil {
			return nil, fmt.Errorf("scan channel resolution count: %w", err)
		}
		c.Date = dayStart
		counts = append(counts, c)
	}
	return counts, rows.Err()
}

// DailyChannelResolutionCounts is AggregateChannelResolutionCounts for
// callers outside this package, such as the billing aggregator.
func (s *Store) DailyChannelResolutionCounts(ctx context.Context, projectID uuid.UUID, date time.Time) ([]ChannelResolutionCount, error) {
	return s.AggregateChannelResolutionCounts(ctx, s.pool, projectID, date)
}

// EnsureActiveConversation implements the election in spec §4.3 steps 2-6:
// upsert the project, lock every IN_PROGRESS conversation for the tuple,
// keep the most recent (or create one if none exist), and demote the rest
// to UNCLASSIFIED. Returns the surviving conversation and the ids of any
// conversations it demoted (for the caller to log as a healed invariant
// violation).
func (s *Store) EnsureActiveConversation(ctx context.Context, projectID uuid.UUID, contactURN string, channelUUID uuid.UUID, contactName string) (Conversation, []uuid.UUID, error) {
	var selected Conversation
	var demoted []uuid.UUID

	err := s.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := s.UpsertProject(ctx, tx, projectID); err != nil {
			return err
		}

		active, err := s.FindActiveConversationsForUpdate(ctx, tx, projectID, contactURN, channelUUID)
		if err != nil {
			return err
		}

		if len(active) == 0 {
			now := time.Now().UTC()
			created, err := s.CreateConversation(ctx, tx, Conversation{
				ProjectID:    projectID,
				ContactURN:   contactURN,
				ContactName:  contactName,
				ChannelUUID:  &channelUUID,
				StartDate:    now,
				EndDate:      now.Add(24 * time.Hour),
				HasChatsRoom: false,
				Resolution:   ResolutionInProgress,
			})
			if err != nil {
				return err
			}
			selected = created
			return nil
		}

		selected = active[0]
		if len(active) > 1 {
			for _, c := range active[1:] {
				demoted = append(demoted, c.ID)
			}
			if err := s.DemoteToUnclassified(ctx, tx, demoted); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return Conversation{}, nil, err
	}
	return selected, demoted, nil
}

// ApplyConversationWindow implements spec §4.3 ApplyWindow: locate the most
// recent conversation for the tuple, or create one, then apply the window
// patch. If has_chats_room is true the resolution becomes HAS_CHAT_ROOM;
// otherwise the existing resolution is preserved (IN_PROGRESS when
// creating). Returns whether the conversation was IN_PROGRESS beforehand
// and whether it no longer is afterward — the caller uses that to decide
// whether to trigger migration.
func (s *Store) ApplyConversationWindow(ctx context.Context, projectID uuid.UUID, contactURN string, channelUUID uuid.UUID, patch ConversationPatch, defaultContactName string) (conversation Conversation, wasInProgress bool, closed bool, err error) {
	txErr := s.WithTx(ctx, func(tx pgx.Tx) error {
		if _, err := s.UpsertProject(ctx, tx, projectID); err != nil {
			return err
		}

		existing, err := s.FindMostRecentConversation(ctx, tx, projectID, contactURN, channelUUID)
		if err != nil {
			return err
		}

		hasChatsRoom := patch.HasChatsRoom != nil && *patch.HasChatsRoom

		if existing == nil {
			now := time.Now().UTC()
			startDate, endDate := now, now.Add(24*time.Hour)
			if patch.StartDate != nil {
				startDate = *patch.StartDate
			}
			if patch.EndDate != nil {
				endDate = *patch.EndDate
			}
			contactName := defaultContactName
			if patch.ContactName != nil {
				contactName = *patch.ContactName
			}
			resolution := ResolutionInProgress
			if hasChatsRoom {
				resolution = ResolutionHasChatRoom
			}
			created, err := s.CreateConversation(ctx, tx, Conversation{
				ProjectID:    projectID,
				ContactURN:   contactURN,
				ContactName:  contactName,
				ChannelUUID:  &channelUUID,
				ExternalID:   patch.ExternalID,
				StartDate:    startDate,
				EndDate:      endDate,
				HasChatsRoom: hasChatsRoom,
				Resolution:   resolution,
			})
			if err != nil {
				return err
			}
			conversation = created
			wasInProgress, closed = false, false
			return nil
		}

		wasInProgress = existing.Resolution == ResolutionInProgress
		resolvedPatch := patch
		if hasChatsRoom {
			r := ResolutionHasChatRoom
			resolvedPatch.Resolution = &r
		} else {
			resolvedPatch.Resolution = nil
		}

		updated, err := s.UpdateConversation(ctx, tx, existing.ID, resolvedPatch)
		if err != nil {
			return err
		}
		conversation = updated
		closed = wasInProgress && updated.Resolution != ResolutionInProgress
		return nil
	})
	if txErr != nil {
		return Conversation{}, false, false, txErr
	}
	return conversation, wasInProgress, closed, nil
}

// UpdateConversationFields implements spec §4.3 UpdateFields: locks the
// conversation by id, applies an arbitrary field patch, and reports whether
// the write transitioned resolution out of IN_PROGRESS.
func (s *Store) UpdateConversationFields(ctx context.Context, conversationID uuid.UUID, patch ConversationPatch) (conversation Conversation, wasInProgress bool, closed bool, err error) {
	txErr := s.WithTx(ctx, func(tx pgx.Tx) error {
		existing, err := s.lockConversation(ctx, tx, conversationID)
		if err != nil {
			return err
		}
		wasInProgress = existing.Resolution == ResolutionInProgress

		updated, err := s.UpdateConversation(ctx, tx, conversationID, patch)
		if err != nil {
			return err
		}
		conversation = updated
		closed = wasInProgress && updated.Resolution != ResolutionInProgress
		return nil
	})
	if txErr != nil {
		return Conversation{}, false, false, txErr
	}
	return conversation, wasInProgress, closed, nil
}

func (s *Store) lockConversation(ctx context.Context, tx pgx.Tx, id uuid.UUID) (Conversation, error) {
	row := tx.QueryRow(ctx, `
		SELECT id, project_id, contact_urn, contact_name, channel_uuid, external_id,
		       start_date, end_date, has_chats_room, csat, nps, resolution, created_at, updated_at
		FROM conversations WHERE id = $1 FOR UPDATE
	`, id)
	c, err := scanConversation(row)
	if err != nil {
		return Conversation{}, fmt.Errorf("lock conversation %s: %w", id, err)
	}
	return c, nil
}

func scanConversations(rows pgx.Rows) ([]Conversation, error) {
	var out []Conversation
	for rows.Next() {
		c, err := scanConversationRow(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func scanConversation(row pgx.Row) (Conversation, error) {
	return scanConversationRow(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanConversationRow(row rowScanner) (Conversation, error) {
	var c Conversation
	err := row.Scan(
		&c.ID, &c.ProjectID, &c.ContactURN, &c.ContactName, &c.ChannelUUID, &c.ExternalID,
		&c.StartDate, &c.EndDate, &c.HasChatsRoom, &c.CSAT, &c.NPS, &c.Resolution, &c.CreatedAt, &c.UpdatedAt,
	)
	return c, err
}
