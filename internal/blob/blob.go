// Package blob stores rendered exam documents.
package blob

import (
	"context"
	"fmt"
	"strconv"

	"github.com/google/uuid"

	"github.com/pavelanni/trilma/internal/model"
)

// Store uploads, fetches and deletes documents grouped by namespace.
type Store interface {
	Upload(ctx context.Context, namespace string, data []byte) (string, error)
	Fetch(ctx context.Context, namespace, id string) ([]byte, error)
	Delete(ctx context.Context, namespace, id string) error
}

// Namespace returns the folder documents of an owner are stored under.
func Namespace(env string, owner int64) string {
	return "trilma/" + env + "/" + strconv.FormatInt(owner, 10)
}

func newID() string {
	return uuid.NewString()
}

func objectName(namespace, id string) string {
	return namespace + "/" + id + ".pdf"
}

// checkID rejects ids that were not issued by Upload.
func checkID(id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return fmt.Errorf("%w: invalid id %q", model.ErrNotFound, id)
	}
	return nil
}
