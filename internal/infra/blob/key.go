package blob

import (
	"fmt"
	"time"

	"github.com/google/uuid"
)

// NewKey строит ключ объекта вида prefix/2006/01/02/<uuid>.ext.
func NewKey(prefix, ext string, now time.Time) string {
	return fmt.Sprintf("%s/%s/%s%s", prefix, now.UTC().Format("2006/01/02"), uuid.NewString(), ext)
}
