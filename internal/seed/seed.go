// Package seed 为本地开发与演示环境写入假数据。
package seed

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"blogapi/internal/account"
	"blogapi/internal/model"

	"github.com/brianvoe/gofakeit/v6"
)

// 演示账号，可直接用于登录。
const (
	DemoEmail    = "demo@blogapi.local"
	DemoUsername = "demo"
	DemoPassword = "demo-password"
)

// Accounts 是 seed 需要的凭据存储能力。
type Accounts interface {
	CreateUser(ctx context.Context, in account.NewUser) (*model.User, error)
}

// Posts 是 seed 需要的文章存储能力。
type Posts interface {
	CreatePost(ctx context.Context, p *model.Post) error
	SetView(ctx context.Context, postID uint, total int64) (*model.PostView, error)
	CreateComment(ctx context.Context, c *model.Comment) error
}

// Options 控制生成的数据量。
type Options struct {
	Authors         int
	PostsPerAuthor  int
	CommentsPerPost int
	Seed            int64 // 0 表示使用当前时间
}

// Summary 统计实际写入的记录数。
type Summary struct {
	Users    int
	Posts    int
	Comments int
	Skipped  bool // 演示账号已存在，未写入任何数据
}

var tagPool = []string{"go", "backend", "devops", "database", "redis", "design", "testing", "career", "frontend", "security"}

// Demo 创建演示账号及若干作者、文章、评论和浏览量。
//
// 演示账号已存在时直接返回，因此可以在每次启动时调用。
func Demo(ctx context.Context, accounts Accounts, posts Posts, logger *slog.Logger, opts Options) (Summary, error) {
	if logger == nil {
		logger = slog.Default()
	}
	opts = withDefaults(opts)
	faker := gofakeit.New(opts.Seed)

	demo, err := accounts.CreateUser(ctx, account.NewUser{
		Name:     "Demo User",
		Username: DemoUsername,
		Email:    DemoEmail,
		Password: DemoPassword,
		Role:     model.RoleUser,
	})
	if errors.Is(err, account.ErrEmailTaken) || errors.Is(err, account.ErrUsernameTaken) {
		logger.Info("demo data already present, skip seeding")
		return Summary{Skipped: true}, nil
	}
	if err != nil {
		return Summary{}, fmt.Errorf("create demo user: %w", err)
	}

	sum := Summary{Users: 1}
	authors := []*model.User{demo}
	for i := 0; i < opts.Authors; i++ {
		u, err := accounts.CreateUser(ctx, account.NewUser{
			Name:     faker.Name(),
			Username: strings.ToLower(faker.Username()),
			Email:    strings.ToLower(faker.Email()),
			Password: faker.Password(true, true, true, false, false, 12),
			Role:     model.RoleUser,
		})
		if errors.Is(err, account.ErrEmailTaken) || errors.Is(err, account.ErrUsernameTaken) {
			continue
		}
		if err != nil {
			return sum, fmt.Errorf("create author: %w", err)
		}
		authors = append(authors, u)
		sum.Users++
	}

	for _, author := range authors {
		for i := 0; i < opts.PostsPerAuthor; i++ {
			p := &model.Post{
				UserID:      author.ID,
				UserName:    author.Name,
				Title:       strings.TrimSuffix(faker.Sentence(faker.Number(3, 8)), "."),
				Description: faker.Paragraph(2, 4, 12, "\n\n"),
				Tags:        pickTags(faker, faker.Number(1, 3)),
				Thumbs:      faker.ImageURL(640, 360),
			}
			if err := posts.CreatePost(ctx, p); err != nil {
				return sum, fmt.Errorf("create post: %w", err)
			}
			sum.Posts++

			if _, err := posts.SetView(ctx, p.ID, int64(faker.Number(0, 5000))); err != nil {
				return sum, fmt.Errorf("set views: %w", err)
			}

			for j := 0; j < opts.CommentsPerPost; j++ {
				c := &model.Comment{
					PostID:  p.ID,
					Comment: faker.Sentence(faker.Number(4, 16)),
					Name:    faker.Name(),
					Email:   strings.ToLower(faker.Email()),
				}
				if err := posts.CreateComment(ctx, c); err != nil {
					return sum, fmt.Errorf("create comment: %w", err)
				}
				sum.Comments++
			}
		}
	}

	logger.Info("demo data seeded",
		slog.Int("users", sum.Users),
		slog.Int("posts", sum.Posts),
		slog.Int("comments", sum.Comments),
	)
	return sum, nil
}

func withDefaults(opts Options) Options {
	if opts.Authors < 0 {
		opts.Authors = 0
	}
	if opts.Authors == 0 && opts.PostsPerAuthor == 0 && opts.CommentsPerPost == 0 {
		opts.Authors, opts.PostsPerAuthor, opts.CommentsPerPost = 3, 4, 2
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}
	return opts
}

func pickTags(faker *gofakeit.Faker, n int) []string {
	out := make([]string, 0, n)
	seen := make(map[string]bool, n)
	for len(out) < n {
		tag := tagPool[faker.Number(0, len(tagPool)-1)]
		if seen[tag] {
			continue
		}
		seen[tag] = true
		out = append(out, tag)
	}
	return out
}
