package job

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strings"
	"sync"
	"time"

	"github.com/Sternrassler/comment-crawler/pkg/tiktok"
	"github.com/redis/go-redis/v9"
)

// ErrArtifactNotFound is returned for unknown artifact names.
var ErrArtifactNotFound = errors.New("artifact not found")

// DefaultArtifactTTL is how long Redis keeps an artifact.
const DefaultArtifactTTL = 24 * time.Hour

// FormattedComment is one comment of a result artifact.
type FormattedComment struct {
	CommentID         string `json:"comment_id"`
	PostID            string `json:"post_id"`
	AuthorNickname    string `json:"author_nickname"`
	AuthorUID         string `json:"author_uid"`
	AuthorUniqueID    string `json:"author_unique_id"`
	CommentText       string `json:"comment_text"`
	LikeCount         int    `json:"like_count"`
	ReplyCommentTotal int    `json:"reply_comment_total"`
	CommentDate       int64  `json:"comment_date"`
}

// Metadata describes a result artifact.
type Metadata struct {
	VideoID       string    `json:"video_id"`
	TotalComments int       `json:"total_comments"`
	TotalReplies  int       `json:"total_replies"`
	CrawledAt     time.Time `json:"crawled_at"`
}

// Artifact is the result document of a completed crawl.
type Artifact struct {
	Comments []FormattedComment `json:"comments"`
	Metadata Metadata           `json:"metadata"`
}

// Format builds the artifact. Reply totals come from replyCounts; comments
// without an entry report 0.
func Format(videoID string, comments []tiktok.Comment, replyCounts map[string]int, crawledAt time.Time) Artifact {
	out := Artifact{
		Comments: make([]FormattedComment, 0, len(comments)),
		Metadata: Metadata{
			VideoID:   videoID,
			CrawledAt: crawledAt,
		},
	}
	for _, c := range comments {
		out.Comments = append(out.Comments, FormattedComment{
			CommentID:         string(c.CID),
			PostID:            videoID,
			AuthorNickname:    c.User.Nickname,
			AuthorUID:         string(c.User.UID),
			AuthorUniqueID:    c.User.UniqueID,
			CommentText:       c.Text,
			LikeCount:         c.DiggCount,
			ReplyCommentTotal: replyCounts[string(c.CID)],
			CommentDate:       c.CreateTime,
		})
	}
	for _, n := range replyCounts {
		out.Metadata.TotalReplies += n
	}
	out.Metadata.TotalComments = len(out.Comments)
	return out
}

var artifactNamePattern = regexp.MustCompile(`^tiktok_comments_[A-Za-z0-9_-]+_\d{8}_\d{6}$`)

// ArtifactName returns tiktok_comments_<video>_<YYYYMMDD_HHMMSS>.
func ArtifactName(videoID string, at time.Time) string {
	return fmt.Sprintf("tiktok_comments_%s_%s", videoID, at.Format("20060102_150405"))
}

// ArtifactRef returns the reference stored on a completed job.
func ArtifactRef(name string) string {
	return "/data/" + name + ".json"
}

// ParseArtifactName accepts a name with or without the .json suffix.
func ParseArtifactName(s string) (string, error) {
	name := strings.TrimSuffix(s, ".json")
	if !artifactNamePattern.MatchString(name) {
		return "", fmt.Errorf("%w: %q", ErrArtifactNotFound, s)
	}
	return name, nil
}

// ArtifactStore keeps result artifacts.
type ArtifactStore interface {
	Put(ctx context.Context, name string, artifact Artifact) error
	Get(ctx context.Context, name string) (Artifact, error)
}

// MemoryArtifactStore keeps artifacts in process memory.
type MemoryArtifactStore struct {
	mu        sync.RWMutex
	artifacts map[string]Artifact
}

// NewMemoryArtifactStore creates an empty store.
func NewMemoryArtifactStore() *MemoryArtifactStore {
	return &MemoryArtifactStore{artifacts: make(map[string]Artifact)}
}

func (s *MemoryArtifactStore) Put(_ context.Context, name string, artifact Artifact) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.artifacts[name] = artifact
	return nil
}

func (s *MemoryArtifactStore) Get(_ context.Context, name string) (Artifact, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.artifacts[name]
	if !ok {
		return Artifact{}, ErrArtifactNotFound
	}
	return a, nil
}

// RedisArtifactStore keeps artifacts as JSON strings with a TTL.
type RedisArtifactStore struct {
	redis  redis.Cmdable
	prefix string
	ttl    time.Duration
}

// NewRedisArtifactStore creates a store using keys <prefix>artifact:<name>.
func NewRedisArtifactStore(rdb redis.Cmdable, prefix string, ttl time.Duration) *RedisArtifactStore {
	if prefix == "" {
		prefix = DefaultKeyPrefix
	}
	if ttl <= 0 {
		ttl = DefaultArtifactTTL
	}
	return &RedisArtifactStore{redis: rdb, prefix: prefix + "artifact:", ttl: ttl}
}

func (s *RedisArtifactStore) Put(ctx context.Context, name string, artifact Artifact) error {
	data, err := json.Marshal(artifact)
	if err != nil {
		return fmt.Errorf("marshal artifact: %w", err)
	}
	if err := s.redis.Set(ctx, s.prefix+name, data, s.ttl).Err(); err != nil {
		return fmt.Errorf("redis set: %w", err)
	}
	return nil
}

func (s *RedisArtifactStore) Get(ctx context.Context, name string) (Artifact, error) {
	data, err := s.redis.Get(ctx, s.prefix+name).Bytes()
	if errors.Is(err, redis.Nil) {
		return Artifact{}, ErrArtifactNotFound
	}
	if err != nil {
		return Artifact{}, fmt.Errorf("redis get: %w", err)
	}

	var a Artifact
	if err := json.Unmarshal(data, &a); err != nil {
		return Artifact{}, fmt.Errorf("unmarshal artifact: %w", err)
	}
	return a, nil
}
