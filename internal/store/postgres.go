package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/voyagen/releasecal/internal/models"
)

// PostgreSQL error codes.
const (
	pgUniqueViolation     = "23505"
	pgForeignKeyViolation = "23503"
)

const channelColumns = `c.id, c.name, c.description, c.type, c.source_type, c.source_id,
	c.last_indexed_at, c.data, c.created_at, c.updated_at`

const eventColumns = `e.id, e.channel_id, e.event_title, e.day, e.has_time, e.event_time,
	e.description, e.season_number, e.episode_number, e.link, e.created_at`

// eventCopyColumns is the column order used by insertEvents.
var eventCopyColumns = []string{
	"id", "channel_id", "event_title", "day", "has_time", "event_time",
	"description", "season_number", "episode_number", "link", "created_at",
}

// Postgres implements Store using PostgreSQL.
type Postgres struct {
	pool *pgxpool.Pool
}

var _ Store = (*Postgres)(nil)

// NewPostgres creates a Postgres store from a DSN. Caller must call Close when done.
func NewPostgres(ctx context.Context, dsn string) (*Postgres, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("pgxpool.New: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping: %w", err)
	}
	return &Postgres{pool: pool}, nil
}

// Close closes the connection pool.
func (p *Postgres) Close() {
	p.pool.Close()
}

// Ping checks the database connection.
func (p *Postgres) Ping(ctx context.Context) error {
	return p.pool.Ping(ctx)
}

// --- channels ---

func (p *Postgres) GetChannelByID(ctx context.Context, channelID string) (*models.Channel, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+channelColumns+` FROM channel c WHERE c.id = $1`, channelID)
	ch, err := scanChannel(row)
	if err != nil {
		return nil, fmt.Errorf("GetChannelByID: %w", err)
	}
	return ch, nil
}

func (p *Postgres) GetChannelBySource(ctx context.Context, sourceType models.SourceType, sourceID string) (*models.Channel, error) {
	row := p.pool.QueryRow(ctx,
		`SELECT `+channelColumns+` FROM channel c WHERE c.source_type = $1 AND c.source_id = $2`,
		string(sourceType), sourceID)
	ch, err := scanChannel(row)
	if err != nil {
		return nil, fmt.Errorf("GetChannelBySource: %w", err)
	}
	return ch, nil
}

func (p *Postgres) CreateChannelWithEvents(ctx context.Context, ch *models.Channel, events []models.Event) error {
	data, err := json.Marshal(ch.Data)
	if err != nil {
		return fmt.Errorf("CreateChannelWithEvents: marshal data: %w", err)
	}
	err = pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`INSERT INTO channel (id, name, description, type, source_type, source_id, last_indexed_at, data)
			 VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
			 RETURNING created_at, updated_at`,
			ch.ID, ch.Name, ch.Description, string(ch.Type), string(ch.SourceType), ch.SourceID, ch.LastIndexedAt, data,
		).Scan(&ch.CreatedAt, &ch.UpdatedAt)
		if err != nil {
			return fmt.Errorf("insert channel: %w", err)
		}
		return insertEvents(ctx, tx, events)
	})
	if err != nil {
		return fmt.Errorf("CreateChannelWithEvents: %w", translateErr(err))
	}
	return nil
}

func (p *Postgres) ReplaceChannelEvents(ctx context.Context, ch *models.Channel, events []models.Event) error {
	data, err := json.Marshal(ch.Data)
	if err != nil {
		return fmt.Errorf("ReplaceChannelEvents: marshal data: %w", err)
	}
	err = pgx.BeginFunc(ctx, p.pool, func(tx pgx.Tx) error {
		err := tx.QueryRow(ctx,
			`UPDATE channel SET name = $2, description = $3, type = $4, data = $5,
			   last_indexed_at = $6, updated_at = NOW()
			 WHERE id = $1
			 RETURNING updated_at`,
			ch.ID, ch.Name, ch.Description, string(ch.Type), data, ch.LastIndexedAt,
		).Scan(&ch.UpdatedAt)
		if err != nil {
			return fmt.Errorf("update channel: %w", err)
		}
		if _, err := tx.Exec(ctx, `DELETE FROM event WHERE channel_id = $1`, ch.ID); err != nil {
			return fmt.Errorf("delete events: %w", err)
		}
		return insertEvents(ctx, tx, events)
	})
	if err != nil {
		return fmt.Errorf("ReplaceChannelEvents: %w", translateErr(err))
	}
	return nil
}

// insertEvents bulk-inserts events with COPY inside tx.
func insertEvents(ctx context.Context, tx pgx.Tx, events []models.Event) error {
	if len(events) == 0 {
		return nil
	}
	now := time.Now().UTC()
	n, err := tx.CopyFrom(ctx, pgx.Identifier{"event"}, eventCopyColumns,
		pgx.CopyFromSlice(len(events), func(i int) ([]any, error) {
			e := &events[i]
			day, err := time.Parse(models.DayLayout, e.Day)
			if err != nil {
				return nil, fmt.Errorf("event %s: invalid day %q", e.ID, e.Day)
			}
			if e.CreatedAt.IsZero() {
				e.CreatedAt = now
			}
			return []any{
				e.ID, e.ChannelID, e.EventTitle, day, e.HasTime, e.Timestamp,
				e.Description, e.SeasonNumber, e.EpisodeNumber, e.Link, e.CreatedAt,
			}, nil
		}))
	if err != nil {
		return fmt.Errorf("copy events: %w", err)
	}
	if n != int64(len(events)) {
		return fmt.Errorf("copy events: wrote %d of %d rows", n, len(events))
	}
	return nil
}

func (p *Postgres) ListChannelEvents(ctx context.Context, channelID string, days DayRange) ([]models.Event, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM event e
		 WHERE e.channel_id = $1
		   AND ($2::text = '' OR e.day >= $2::text::date)
		   AND ($3::text = '' OR e.day <= $3::text::date)
		 ORDER BY e.day, e.season_number NULLS LAST, e.episode_number NULLS LAST`,
		channelID, days.Start, days.End)
	if err != nil {
		return nil, fmt.Errorf("ListChannelEvents: %w", err)
	}
	events, err := collectEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("ListChannelEvents: %w", err)
	}
	return events, nil
}

// --- subscription groups ---

func (p *Postgres) ListGroupsByOwner(ctx context.Context, ownerID string) ([]models.SubscriptionGroup, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT id, owner_id, created_at, updated_at FROM subscription_group
		 WHERE owner_id = $1 ORDER BY created_at, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ListGroupsByOwner: %w", err)
	}
	groups, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.SubscriptionGroup, error) {
		var g models.SubscriptionGroup
		err := row.Scan(&g.ID, &g.OwnerID, &g.CreatedAt, &g.UpdatedAt)
		return g, err
	})
	if err != nil {
		return nil, fmt.Errorf("ListGroupsByOwner: %w", err)
	}
	return groups, nil
}

func (p *Postgres) CreateGroup(ctx context.Context, g *models.SubscriptionGroup) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO subscription_group (id, owner_id) VALUES ($1, $2)
		 ON CONFLICT DO NOTHING`,
		g.ID, g.OwnerID)
	if err != nil {
		return fmt.Errorf("CreateGroup: %w", err)
	}
	return nil
}

func (p *Postgres) ListGroupChannels(ctx context.Context, groupID string) ([]models.Channel, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+channelColumns+` FROM channel c
		 JOIN subgroup_channel sc ON sc.channel_id = c.id
		 WHERE sc.subscription_group_id = $1
		 ORDER BY c.name, c.id`, groupID)
	if err != nil {
		return nil, fmt.Errorf("ListGroupChannels: %w", err)
	}
	channels, err := pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Channel, error) {
		ch, err := scanChannel(row)
		if err != nil {
			return models.Channel{}, err
		}
		return *ch, nil
	})
	if err != nil {
		return nil, fmt.Errorf("ListGroupChannels: %w", err)
	}
	return channels, nil
}

func (p *Postgres) AddGroupChannel(ctx context.Context, groupID, channelID string) error {
	_, err := p.pool.Exec(ctx,
		`INSERT INTO subgroup_channel (subscription_group_id, channel_id) VALUES ($1, $2)
		 ON CONFLICT (subscription_group_id, channel_id) DO NOTHING`,
		groupID, channelID)
	if err != nil {
		return fmt.Errorf("AddGroupChannel: %w", translateErr(err))
	}
	return nil
}

func (p *Postgres) RemoveGroupChannel(ctx context.Context, groupID, channelID string) error {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM subgroup_channel WHERE subscription_group_id = $1 AND channel_id = $2`,
		groupID, channelID)
	if err != nil {
		return fmt.Errorf("RemoveGroupChannel: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("RemoveGroupChannel: %w", ErrNotFound)
	}
	return nil
}

func (p *Postgres) RemoveAllGroupChannels(ctx context.Context, groupID string) (int64, error) {
	tag, err := p.pool.Exec(ctx,
		`DELETE FROM subgroup_channel WHERE subscription_group_id = $1`, groupID)
	if err != nil {
		return 0, fmt.Errorf("RemoveAllGroupChannels: %w", err)
	}
	return tag.RowsAffected(), nil
}

func (p *Postgres) ListGroupEvents(ctx context.Context, groupID string, days DayRange) ([]models.Event, error) {
	rows, err := p.pool.Query(ctx,
		`SELECT `+eventColumns+` FROM event e
		 JOIN subgroup_channel sc ON sc.channel_id = e.channel_id
		 WHERE sc.subscription_group_id = $1
		   AND ($2::text = '' OR e.day >= $2::text::date)
		   AND ($3::text = '' OR e.day <= $3::text::date)
		 ORDER BY e.day, e.channel_id, e.season_number NULLS LAST, e.episode_number NULLS LAST`,
		groupID, days.Start, days.End)
	if err != nil {
		return nil, fmt.Errorf("ListGroupEvents: %w", err)
	}
	events, err := collectEvents(rows)
	if err != nil {
		return nil, fmt.Errorf("ListGroupEvents: %w", err)
	}
	return events, nil
}

// --- helpers ---

func scanChannel(row pgx.Row) (*models.Channel, error) {
	var (
		ch              models.Channel
		chType, srcType string
		data            []byte
	)
	err := row.Scan(&ch.ID, &ch.Name, &ch.Description, &chType, &srcType, &ch.SourceID,
		&ch.LastIndexedAt, &data, &ch.CreatedAt, &ch.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	ch.Type = models.ChannelType(chType)
	ch.SourceType = models.SourceType(srcType)
	if len(data) > 0 && string(data) != "{}" {
		if err := json.Unmarshal(data, &ch.Data); err != nil {
			return nil, fmt.Errorf("channel %s data: %w", ch.ID, err)
		}
	}
	return &ch, nil
}

func collectEvents(rows pgx.Rows) ([]models.Event, error) {
	return pgx.CollectRows(rows, func(row pgx.CollectableRow) (models.Event, error) {
		var (
			e   models.Event
			day time.Time
		)
		err := row.Scan(&e.ID, &e.ChannelID, &e.EventTitle, &day, &e.HasTime, &e.Timestamp,
			&e.Description, &e.SeasonNumber, &e.EpisodeNumber, &e.Link, &e.CreatedAt)
		if err != nil {
			return models.Event{}, err
		}
		e.Day = day.Format(models.DayLayout)
		return e, nil
	})
}

// translateErr maps missing rows and constraint violations to store errors.
func translateErr(err error) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return ErrNotFound
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		switch pgErr.Code {
		case pgUniqueViolation:
			return fmt.Errorf("%w: %s", ErrConflict, pgErr.ConstraintName)
		case pgForeignKeyViolation:
			return fmt.Errorf("%w: %s", ErrNotFound, pgErr.ConstraintName)
		}
	}
	return err
}
