package cookie

import (
	"net/http"
	"sort"
	"strconv"
	"strings"
)

const (
	// allowedCookieSize is the conventional browser limit for one
	// serialized cookie, name and attributes included.
	allowedCookieSize = 4096

	// estimatedAttributeSize approximates the serialized attribute
	// overhead (Path, Expires, SameSite, ...) of one cookie.
	estimatedAttributeSize = 163
)

// ChunkStore reads and writes one logical cookie value that may be split
// across several physical cookies. Physical cookies are named
// "<base>.<index>" when chunked; a value that fits in a single cookie
// uses the bare base name. The store remembers which physical names were
// present on the request so switching between chunked and unchunked
// layouts clears stale chunks that would otherwise corrupt reads.
type ChunkStore struct {
	base     string
	existing map[string]string // physical name -> value, as received
}

// NewChunkStore builds a store for base from the request's cookies.
func NewChunkStore(base string, r *http.Request) *ChunkStore {
	s := &ChunkStore{base: base, existing: map[string]string{}}
	for _, c := range r.Cookies() {
		if c.Name == base || strings.HasPrefix(c.Name, base+".") {
			s.existing[c.Name] = c.Value
		}
	}
	return s
}

// Value reassembles the logical value from the physical cookies that
// arrived with the request. Chunks are ordered by numeric suffix, a
// missing suffix counting as 0. A client that dropped or reordered
// chunks yields a corrupt string here; the sealed-token layer rejects
// it downstream.
func (s *ChunkStore) Value() string {
	if len(s.existing) == 0 {
		return ""
	}

	type chunk struct {
		index int
		value string
	}
	chunks := make([]chunk, 0, len(s.existing))
	for name, value := range s.existing {
		chunks = append(chunks, chunk{index: s.chunkIndex(name), value: value})
	}
	sort.Slice(chunks, func(i, j int) bool { return chunks[i].index < chunks[j].index })

	var b strings.Builder
	for _, c := range chunks {
		b.WriteString(c.value)
	}
	return b.String()
}

func (s *ChunkStore) chunkIndex(name string) int {
	suffix := strings.TrimPrefix(name, s.base)
	if suffix == "" {
		return 0
	}
	n, err := strconv.Atoi(strings.TrimPrefix(suffix, "."))
	if err != nil {
		return 0
	}
	return n
}

// Chunk splits value into as many physical cookies as the size budget
// requires, plus deletion cookies for any previously seen physical names
// the new layout no longer uses.
func (s *ChunkStore) Chunk(value string, opt Option) []*http.Cookie {
	chunkSize := allowedCookieSize - estimatedAttributeSize - len(s.base) - 2

	var cookies []*http.Cookie
	if len(value) <= chunkSize {
		cookies = append(cookies, New(s.base, value, opt))
	} else {
		for i := 0; len(value) > 0; i++ {
			n := min(chunkSize, len(value))
			name := s.base + "." + strconv.Itoa(i)
			cookies = append(cookies, New(name, value[:n], opt))
			value = value[n:]
		}
	}

	written := make(map[string]bool, len(cookies))
	for _, c := range cookies {
		written[c.Name] = true
	}
	for name := range s.existing {
		if !written[name] {
			cookies = append(cookies, Deletion(name, opt))
		}
	}
	return cookies
}

// Clean returns deletion cookies for every physical cookie the request
// carried under this base name.
func (s *ChunkStore) Clean(opt Option) []*http.Cookie {
	names := make([]string, 0, len(s.existing))
	for name := range s.existing {
		names = append(names, name)
	}
	sort.Strings(names)

	cookies := make([]*http.Cookie, 0, len(names))
	for _, name := range names {
		cookies = append(cookies, Deletion(name, opt))
	}
	return cookies
}
