package store

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
)

const containerCols = `id, docker_id, name, image_ref, status, ports, volumes, env, subdomain, owner_id, cpu_limit, memory_limit, created_at`

func scanContainer(row interface {
	Scan(dest ...interface{}) error
}) (Container, error) {
	var c Container
	var dockerID sql.NullString
	var ports, volumes, env string
	var createdAt string
	if err := row.Scan(&c.ID, &dockerID, &c.Name, &c.ImageRef, &c.Status, &ports, &volumes, &env, &c.Subdomain, &c.OwnerID, &c.CPULimit, &c.MemoryLimit, &createdAt); err != nil {
		return Container{}, err
	}
	if dockerID.Valid {
		c.DockerID = dockerID.String
	}
	c.Ports = unmarshalPortMap(ports)
	c.Volumes = unmarshalStringMap(volumes)
	c.Env = unmarshalStringMap(env)
	c.CreatedAt = parseTime(createdAt)
	return c, nil
}

func (s *Store) InsertContainer(ctx context.Context, c Container) (Container, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	_, err := s.db.ExecContext(ctx, `
INSERT INTO containers (`+containerCols+`)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
`, c.ID, nullStr(c.DockerID), c.Name, c.ImageRef, c.Status, marshalPortMap(c.Ports), marshalStringMap(c.Volumes), marshalStringMap(c.Env), c.Subdomain, c.OwnerID, c.CPULimit, c.MemoryLimit, formatTime(c.CreatedAt))
	if err != nil {
		return Container{}, err
	}
	return c, nil
}

func (s *Store) GetContainer(ctx context.Context, id string) (Container, bool, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+containerCols+` FROM containers WHERE id = ?`, id)
	c, err := scanContainer(row)
	if err == sql.ErrNoRows {
		return Container{}, false, nil
	}
	if err != nil {
		return Container{}, false, scanErr("container", err)
	}
	return c, true, nil
}

func (s *Store) GetContainerByDockerID(ctx context.Context, dockerID string) (Container, bool, error) {
	if dockerID == "" {
		return Container{}, false, nil
	}
	row := s.db.QueryRowContext(ctx, `SELECT `+containerCols+` FROM containers WHERE docker_id = ?`, dockerID)
	c, err := scanContainer(row)
	if err == sql.ErrNoRows {
		return Container{}, false, nil
	}
	if err != nil {
		return Container{}, false, scanErr("container", err)
	}
	return c, true, nil
}

func (s *Store) ListContainersByOwner(ctx context.Context, ownerID string) ([]Container, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT `+containerCols+` FROM containers WHERE owner_id = ? ORDER BY created_at`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	items := []Container{}
	for rows.Next() {
		c, err := scanContainer(rows)
		if err != nil {
			return nil, scanErr("container", err)
		}
		items = append(items, c)
	}
	return items, rows.Err()
}

// UpsertContainerByDockerID keeps at most one record per live engine id.
// A single writer connection makes select-then-write safe here.
func (s *Store) UpsertContainerByDockerID(ctx context.Context, c Container) (Container, error) {
	existing, ok, err := s.GetContainerByDockerID(ctx, c.DockerID)
	if err != nil {
		return Container{}, err
	}
	if !ok {
		return s.InsertContainer(ctx, c)
	}

	c.ID = existing.ID
	c.CreatedAt = existing.CreatedAt
	if c.Subdomain == "" {
		c.Subdomain = existing.Subdomain
	}
	if len(c.Env) == 0 {
		c.Env = existing.Env
	}
	if len(c.Volumes) == 0 {
		c.Volumes = existing.Volumes
	}
	if c.CPULimit == 0 {
		c.CPULimit = existing.CPULimit
	}
	if c.MemoryLimit == 0 {
		c.MemoryLimit = existing.MemoryLimit
	}
	_, err = s.db.ExecContext(ctx, `
UPDATE containers SET name = ?, image_ref = ?, status = ?, ports = ?, volumes = ?, env = ?, subdomain = ?, owner_id = ?, cpu_limit = ?, memory_limit = ? WHERE id = ?
`, c.Name, c.ImageRef, c.Status, marshalPortMap(c.Ports), marshalStringMap(c.Volumes), marshalStringMap(c.Env), c.Subdomain, c.OwnerID, c.CPULimit, c.MemoryLimit, c.ID)
	if err != nil {
		return Container{}, err
	}
	return c, nil
}

func (s *Store) UpdateContainerStatus(ctx context.Context, id, status string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE containers SET status = ? WHERE id = ?`, status, id)
	return err
}

func (s *Store) DeleteContainer(ctx context.Context, id string) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM containers WHERE id = ?`, id)
	return err
}

func (s *Store) SumContainerCPUByOwner(ctx context.Context, ownerID string) (int64, error) {
	var total sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT SUM(cpu_limit) FROM containers WHERE owner_id = ?`, ownerID).Scan(&total); err != nil {
		return 0, err
	}
	return total.Int64, nil
}

func (s *Store) SumContainerMemoryByOwner(ctx context.Context, ownerID string) (int64, error) {
	var total sql.NullInt64
	if err := s.db.QueryRowContext(ctx, `SELECT SUM(memory_limit) FROM containers WHERE owner_id = ?`, ownerID).Scan(&total); err != nil {
		return 0, err
	}
	return total.Int64, nil
}
