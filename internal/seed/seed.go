// Package seed はイベント前の事前登録データ投入とテストデータ削除を提供する。
package seed

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"

	"github.com/hitoshi/pitchday/internal/docstore"
	"github.com/hitoshi/pitchday/internal/identity"
	"github.com/hitoshi/pitchday/internal/model"
	"github.com/hitoshi/pitchday/internal/repository"
	"github.com/hitoshi/pitchday/internal/security"
)

// UserSeed は事前登録する投資家1人分の入力。
type UserSeed struct {
	Name    string `yaml:"name"`
	Email   string `yaml:"email"`
	Company string `yaml:"company"`
}

// UsersFile は事前登録ファイルの形式。
type UsersFile struct {
	Users []UserSeed `yaml:"users"`
}

// Result は投入結果の件数。
type Result struct {
	Created int
	Skipped int
	Failed  int
}

// Seeder はデータ投入処理を行う。
type Seeder struct {
	identities repository.IdentityRepository
	startups   repository.StartupRepository
	votes      repository.VoteRepository
	meetings   repository.MeetingRequestRepository
	sanitizer  security.ContentSanitizerService
	logger     *slog.Logger
}

// NewSeeder はSeederを生成する。
func NewSeeder(
	identities repository.IdentityRepository,
	startups repository.StartupRepository,
	votes repository.VoteRepository,
	meetings repository.MeetingRequestRepository,
	logger *slog.Logger,
) *Seeder {
	if logger == nil {
		logger = slog.Default()
	}
	return &Seeder{
		identities: identities,
		startups:   startups,
		votes:      votes,
		meetings:   meetings,
		sanitizer:  security.NewContentSanitizer(),
		logger:     logger,
	}
}

// LoadUsers はYAMLの事前登録ファイルを読み込む。
func LoadUsers(r io.Reader) ([]UserSeed, error) {
	var file UsersFile
	if err := yaml.NewDecoder(r).Decode(&file); err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to parse users file: %w", err)
	}
	return file.Users, nil
}

// SeedUsers は投資家を正規化済みメールアドレスをキーとして事前登録する。
// 既に存在するレコードは上書きせずスキップする。失敗した行があっても残りの行は処理する。
func (s *Seeder) SeedUsers(ctx context.Context, users []UserSeed) (Result, error) {
	var (
		result Result
		errs   []error
	)
	for _, u := range users {
		email := identity.NormalizeEmail(u.Email)
		if email == "" {
			s.logger.Warn("skipping user without email", slog.String("name", u.Name))
			result.Skipped++
			continue
		}

		err := s.identities.Create(ctx, &model.Identity{
			ID:      email,
			Email:   email,
			Name:    strings.TrimSpace(u.Name),
			Company: strings.TrimSpace(u.Company),
		})
		switch {
		case err == nil:
			s.logger.Info("user pre-registered", slog.String("email", email))
			result.Created++
		case errors.Is(err, docstore.ErrAlreadyExists), errors.Is(err, docstore.ErrPermissionDenied):
			s.logger.Info("user already exists, skipping", slog.String("email", email))
			result.Skipped++
		default:
			s.logger.Error("failed to pre-register user",
				slog.String("email", email),
				slog.String("error", err.Error()),
			)
			result.Failed++
			errs = append(errs, fmt.Errorf("%s: %w", email, err))
		}
	}
	return result, errors.Join(errs...)
}

// ParseStartups はCSVからスタートアップ一覧を読み込む。
// ヘッダーは id,name,logo,description,fullDescription,website,linkedin の順。
// 表示順はidが数値ならその値、そうでなければ行番号（1始まり）。idが空の行はauto-<行index>をキーにする。
func (s *Seeder) ParseStartups(r io.Reader) ([]*model.Startup, error) {
	reader := csv.NewReader(r)
	reader.FieldsPerRecord = -1
	reader.LazyQuotes = true

	records, err := reader.ReadAll()
	if err != nil {
		return nil, fmt.Errorf("failed to parse startups csv: %w", err)
	}
	if len(records) < 2 {
		return nil, nil
	}

	startups := make([]*model.Startup, 0, len(records)-1)
	for index, row := range records[1:] {
		field := func(i int) string {
			if i < len(row) {
				return strings.TrimSpace(row[i])
			}
			return ""
		}

		id := field(0)
		order, err := strconv.Atoi(id)
		if err != nil || order == 0 {
			order = index + 1
		}
		if id == "" {
			id = fmt.Sprintf("auto-%d", index)
		}

		startups = append(startups, &model.Startup{
			ID:              id,
			Name:            field(1),
			Logo:            field(2),
			Description:     field(3),
			FullDescription: s.sanitizer.Sanitize(field(4)),
			Website:         field(5),
			LinkedIn:        field(6),
			Order:           order,
		})
	}
	return startups, nil
}

// SeedStartups はスタートアップを上書き保存する。
func (s *Seeder) SeedStartups(ctx context.Context, startups []*model.Startup) (int, error) {
	for i, startup := range startups {
		if err := s.startups.Upsert(ctx, startup); err != nil {
			return i, fmt.Errorf("failed to seed startup %s: %w", startup.ID, err)
		}
	}
	s.logger.Info("startups seeded", slog.Int("count", len(startups)))
	return len(startups), nil
}

// ClearTestData はすべての投票と面談リクエストを削除する。
func (s *Seeder) ClearTestData(ctx context.Context) (votes, meetings int, err error) {
	votes, err = s.votes.DeleteAll(ctx)
	if err != nil {
		return 0, 0, fmt.Errorf("failed to clear votes: %w", err)
	}
	meetings, err = s.meetings.DeleteAll(ctx)
	if err != nil {
		return votes, 0, fmt.Errorf("failed to clear meeting requests: %w", err)
	}
	s.logger.Info("test data cleared",
		slog.Int("votes", votes),
		slog.Int("meeting_requests", meetings),
	)
	return votes, meetings, nil
}
