package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"
	"go.opentelemetry.io/otel"

	"github.com/sbtg-data/flowmirror/schema"
)

// NewPostgresStores builds the repository set backed by a Postgres database.
func NewPostgresStores(db *sql.DB) Stores {
	return Stores{
		Flows:      &PostgresFlowRepository{db: db},
		Users:      &PostgresUserRepository{db: db},
		FlowErrors: &PostgresFlowErrorRepository{db: db},
	}
}

type PostgresFlowRepository struct {
	db *sql.DB // using database/sql
}

func (p *PostgresFlowRepository) FindByID(ctx context.Context, id string) (*schema.Flow, error) {
	row := p.db.QueryRowContext(ctx,
		`SELECT id, name, owner_email, user_id, function, packages, status, created_at, updated_at
         FROM flows WHERE id=$1`, id)
	flow, err := scanFlow(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return flow, nil
}

func (p *PostgresFlowRepository) FindByOwnerEmail(ctx context.Context, ownerEmail string) ([]schema.Flow, error) {
	return p.query(ctx, "FindByOwnerEmail",
		`SELECT id, name, owner_email, user_id, function, packages, status, created_at, updated_at
         FROM flows WHERE owner_email=$1 ORDER BY created_at`, ownerEmail)
}

func (p *PostgresFlowRepository) FindByUserID(ctx context.Context, userID string) ([]schema.Flow, error) {
	return p.query(ctx, "FindByUserID",
		`SELECT id, name, owner_email, user_id, function, packages, status, created_at, updated_at
         FROM flows WHERE user_id=$1 ORDER BY created_at`, userID)
}

func (p *PostgresFlowRepository) FindAll(ctx context.Context) ([]schema.Flow, error) {
	return p.query(ctx, "FindAll",
		`SELECT id, name, owner_email, user_id, function, packages, status, created_at, updated_at
         FROM flows ORDER BY created_at`)
}

func (p *PostgresFlowRepository) query(ctx context.Context, spanName, statement string, args ...any) ([]schema.Flow, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()

	startTime := time.Now()

	rows, err := p.db.QueryContext(ctx, statement, args...)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer rows.Close()

	var flows []schema.Flow
	for rows.Next() {
		flow, err := scanFlow(rows)
		if err != nil {
			span.RecordError(err)
			return nil, err
		}
		flows = append(flows, *flow)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	addDBStatsToSpan(span, "postgresql", spanName, len(flows), time.Since(startTime))

	return flows, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanFlow(row rowScanner) (*schema.Flow, error) {
	var flow schema.Flow
	var userID sql.NullString
	if err := row.Scan(&flow.ID, &flow.Name, &flow.OwnerEmail, &userID, &flow.Function,
		pq.Array(&flow.Packages), &flow.Status, &flow.CreatedAt, &flow.UpdatedAt); err != nil {
		return nil, err
	}
	flow.UserID = userID.String
	return &flow, nil
}

func (p *PostgresFlowRepository) Save(ctx context.Context, flow *schema.Flow) error {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "SaveFlow")
	defer span.End()

	if flow.ID == "" {
		flow.ID = uuid.NewString()
	}
	flow.UpdatedAt = time.Now()

	_, err := p.db.ExecContext(ctx,
		`INSERT INTO flows (id, name, owner_email, user_id, function, packages, status, created_at, updated_at)
         VALUES ($1, $2, $3, NULLIF($4, ''), $5, $6, $7, $8, $9)
         ON CONFLICT (id) DO UPDATE SET name=$2, owner_email=$3, user_id=NULLIF($4, ''),
           function=$5, packages=$6, status=$7, updated_at=$9`,
		flow.ID, flow.Name, flow.OwnerEmail, flow.UserID, flow.Function,
		pq.Array(flow.Packages), flow.Status, flow.CreatedAt, flow.UpdatedAt)
	if err != nil {
		span.RecordError(err)
	}
	return err
}

func (p *PostgresFlowRepository) Delete(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM flows WHERE id=$1`, id)
	return err
}

type PostgresUserRepository struct {
	db *sql.DB
}

func (p *PostgresUserRepository) FindByID(ctx context.Context, id string) (*schema.User, error) {
	return p.findOne(ctx, `SELECT id, email, password, roles, api_key FROM users WHERE id=$1`, id)
}

func (p *PostgresUserRepository) FindByEmail(ctx context.Context, email string) (*schema.User, error) {
	return p.findOne(ctx, `SELECT id, email, password, roles, api_key FROM users WHERE email=$1`, email)
}

func (p *PostgresUserRepository) findOne(ctx context.Context, statement string, arg any) (*schema.User, error) {
	var user schema.User
	err := p.db.QueryRowContext(ctx, statement, arg).
		Scan(&user.ID, &user.Email, &user.PasswordHash, pq.Array(&user.Roles), &user.APIKey)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &user, nil
}

func (p *PostgresUserRepository) ExistsByEmail(ctx context.Context, email string) (bool, error) {
	var exists bool
	err := p.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM users WHERE email=$1)`, email).Scan(&exists)
	return exists, err
}

func (p *PostgresUserRepository) FindAll(ctx context.Context) ([]schema.User, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, "FindAllUsers")
	defer span.End()

	startTime := time.Now()

	rows, err := p.db.QueryContext(ctx, `SELECT id, email, password, roles, api_key FROM users ORDER BY email`)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer rows.Close()

	var users []schema.User
	for rows.Next() {
		var user schema.User
		if err := rows.Scan(&user.ID, &user.Email, &user.PasswordHash, pq.Array(&user.Roles), &user.APIKey); err != nil {
			span.RecordError(err)
			return nil, err
		}
		users = append(users, user)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	addDBStatsToSpan(span, "postgresql", "FindAllUsers", len(users), time.Since(startTime))

	return users, nil
}

func (p *PostgresUserRepository) Save(ctx context.Context, user *schema.User) error {
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO users (id, email, password, roles, api_key)
         VALUES ($1, $2, $3, $4, $5)
         ON CONFLICT (id) DO UPDATE SET email=$2, password=$3, roles=$4, api_key=$5`,
		user.ID, user.Email, user.PasswordHash, pq.Array(user.Roles), user.APIKey)
	return err
}

func (p *PostgresUserRepository) Delete(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM users WHERE id=$1`, id)
	return err
}

type PostgresFlowErrorRepository struct {
	db *sql.DB
}

func (p *PostgresFlowErrorRepository) FindByID(ctx context.Context, id string) (*schema.FlowError, error) {
	var flowError schema.FlowError
	err := p.db.QueryRowContext(ctx,
		`SELECT id, flow_id, message, date FROM flow_errors WHERE id=$1`, id).
		Scan(&flowError.ID, &flowError.FlowID, &flowError.Message, &flowError.Date)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &flowError, nil
}

func (p *PostgresFlowErrorRepository) FindByFlowID(ctx context.Context, flowID string) ([]schema.FlowError, error) {
	return p.query(ctx, "FindErrorsByFlowID",
		`SELECT id, flow_id, message, date FROM flow_errors WHERE flow_id=$1 ORDER BY date`, flowID)
}

func (p *PostgresFlowErrorRepository) FindAll(ctx context.Context) ([]schema.FlowError, error) {
	return p.query(ctx, "FindAllErrors",
		`SELECT id, flow_id, message, date FROM flow_errors ORDER BY date`)
}

func (p *PostgresFlowErrorRepository) query(ctx context.Context, spanName, statement string, args ...any) ([]schema.FlowError, error) {
	tracer := otel.Tracer(tracerName)
	ctx, span := tracer.Start(ctx, spanName)
	defer span.End()

	startTime := time.Now()

	rows, err := p.db.QueryContext(ctx, statement, args...)
	if err != nil {
		span.RecordError(err)
		return nil, err
	}
	defer rows.Close()

	var flowErrors []schema.FlowError
	for rows.Next() {
		var flowError schema.FlowError
		if err := rows.Scan(&flowError.ID, &flowError.FlowID, &flowError.Message, &flowError.Date); err != nil {
			span.RecordError(err)
			return nil, err
		}
		flowErrors = append(flowErrors, flowError)
	}

	if err := rows.Err(); err != nil {
		span.RecordError(err)
		return nil, err
	}

	addDBStatsToSpan(span, "postgresql", spanName, len(flowErrors), time.Since(startTime))

	return flowErrors, nil
}

func (p *PostgresFlowErrorRepository) Save(ctx context.Context, flowError *schema.FlowError) error {
	if flowError.ID == "" {
		flowError.ID = uuid.NewString()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO flow_errors (id, flow_id, message, date)
         VALUES ($1, $2, $3, $4)
         ON CONFLICT (id) DO UPDATE SET flow_id=$2, message=$3, date=$4`,
		flowError.ID, flowError.FlowID, flowError.Message, flowError.Date)
	return err
}

func (p *PostgresFlowErrorRepository) Delete(ctx context.Context, id string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM flow_errors WHERE id=$1`, id)
	return err
}

func (p *PostgresFlowErrorRepository) DeleteByFlowID(ctx context.Context, flowID string) error {
	_, err := p.db.ExecContext(ctx, `DELETE FROM flow_errors WHERE flow_id=$1`, flowID)
	return err
}
