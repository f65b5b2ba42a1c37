package container

import (
	"crypto/rand"
	"path/filepath"
	"strings"
	"time"

	"github.com/oklog/ulid/v2"
)

// DefaultNameTemplate names recordings by start time and a sortable id.
const DefaultNameTemplate = "camrec-{date}-{ulid}.{container}"

// ResolvePath builds an output path from dir and a name template. Supported
// placeholders are {ulid}, {date}, {time}, {session} and {container}.
func ResolvePath(dir, template string, f Format, session string, now time.Time) string {
	if template == "" {
		template = DefaultNameTemplate
	}
	id := ulid.MustNew(ulid.Timestamp(now), rand.Reader)

	name := strings.NewReplacer(
		"{ulid}", id.String(),
		"{date}", now.Format("20060102-150405"),
		"{time}", now.Format("150405"),
		"{session}", session,
		"{container}", f.Extension(),
	).Replace(template)

	return filepath.Join(dir, filepath.Base(name))
}
