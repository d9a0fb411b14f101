package main

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"log/slog"
	"os"
	"strconv"
	"strings"

	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"
	"gorm.io/gorm"

	"admitHub/internal/auth"
	"admitHub/internal/config"
	"admitHub/internal/database"
	"admitHub/internal/engine"
	"admitHub/internal/enrollment"
	"admitHub/internal/events"
)

func usage() {
	fmt.Fprintln(os.Stderr, `usage: admin <command> [flags]

commands:
  create-staff       创建教务账号并打印一次性初始密码
  migrate            把源期内已通过的申请批量迁移到另一期
  defer              把报名顺延到另一期
  reset-interview    清除申请的视频面试提交
  save-state         重算并回写申请的派生状态`)
	os.Exit(2)
}

func main() {
	if len(os.Args) < 2 {
		usage()
	}

	cfg := config.MustLoad()
	logger := slog.New(slog.NewTextHandler(os.Stderr, nil))
	slog.SetDefault(logger)

	db, err := database.InitDatabase(cfg.Database)
	if err != nil {
		log.Fatalf("init database: %v", err)
	}

	switch os.Args[1] {
	case "create-staff":
		runCreateStaff(db, os.Args[2:])
	case "migrate":
		runMigrate(cfg, db, logger, os.Args[2:])
	case "defer":
		runDefer(cfg, db, logger, os.Args[2:])
	case "reset-interview":
		runResetInterview(cfg, db, logger, os.Args[2:])
	case "save-state":
		runSaveState(cfg, db, logger, os.Args[2:])
	default:
		usage()
	}
}

// newEngine 为 CLI 构造一个带事件分发的引擎。
func newEngine(cfg *config.Config, db *gorm.DB, logger *slog.Logger) (*engine.Engine, *events.Dispatcher, func()) {
	redisClient := redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr()})
	asynqClient := asynq.NewClient(asynq.RedisClientOpt{Addr: cfg.Redis.Addr()})
	dispatcher := events.NewDispatcher(asynqClient, redisClient, logger, nil)
	cleanup := func() {
		_ = asynqClient.Close()
		_ = redisClient.Close()
	}
	return engine.New(db, dispatcher, enrollment.NewBridge()), dispatcher, cleanup
}

func runCreateStaff(db *gorm.DB, args []string) {
	fs := flag.NewFlagSet("create-staff", flag.ExitOnError)
	email := fs.String("email", "", "教务账号邮箱（必填）")
	firstName := fs.String("first-name", "", "名")
	lastName := fs.String("last-name", "", "姓")
	_ = fs.Parse(args)

	addr := strings.ToLower(strings.TrimSpace(*email))
	if addr == "" {
		log.Fatal("missing required flag: --email")
	}

	var existing database.User
	switch err := db.Where("email = ?", addr).First(&existing).Error; {
	case err == nil:
		log.Fatalf("user %q already exists", addr)
	case errors.Is(err, gorm.ErrRecordNotFound):
	default:
		log.Fatalf("query user: %v", err)
	}

	password, err := generateRandomPassword(24)
	if err != nil {
		log.Fatalf("generate password: %v", err)
	}
	hashed, err := auth.HashPassword(password)
	if err != nil {
		log.Fatalf("hash password: %v", err)
	}

	user := database.User{
		Email:        addr,
		PasswordHash: hashed,
		FirstName:    strings.TrimSpace(*firstName),
		LastName:     strings.TrimSpace(*lastName),
		Staff:        true,
	}
	if err := db.Create(&user).Error; err != nil {
		log.Fatalf("create user: %v", err)
	}

	fmt.Printf("已创建教务账号：\n")
	fmt.Printf("邮箱: %s\n", addr)
	fmt.Printf("初始密码: %s\n", password)
	fmt.Printf("提示：请立即登录并修改密码（该密码仅显示一次）。\n")
}

func runMigrate(cfg *config.Config, db *gorm.DB, logger *slog.Logger, args []string) {
	fs := flag.NewFlagSet("migrate", flag.ExitOnError)
	fromRunID := fs.Uint("from-run", 0, "源期 ID（必填）")
	toRunID := fs.Uint("to-run", 0, "目标期 ID（必填）")
	users := fs.String("users", "", "仅迁移这些用户（逗号分隔的用户 ID，缺省为全部）")
	force := fs.Bool("force", false, "允许跨训练营迁移")
	_ = fs.Parse(args)

	if *fromRunID == 0 || *toRunID == 0 {
		log.Fatal("missing required flags: --from-run and --to-run")
	}
	userIDs, err := parseUserIDs(*users)
	if err != nil {
		log.Fatalf("parse --users: %v", err)
	}

	eng, _, cleanup := newEngine(cfg, db, logger)
	defer cleanup()

	migrated, failed, err := migrateRun(context.Background(), db, eng, os.Stdout, *fromRunID, *toRunID, userIDs, *force)
	if err != nil {
		log.Fatalf("migrate run: %v", err)
	}
	fmt.Printf("migrated %d application(s), %d failed\n", migrated, failed)
	if failed > 0 {
		os.Exit(1)
	}
}

// applicationMigrator 是 migrateRun 对引擎的最小依赖。
type applicationMigrator interface {
	Migrate(ctx context.Context, sourceApplicationID, targetRunID uint, force bool) (*database.Application, error)
}

// migrateRun 把源期内所有已通过类（awaiting_payment/complete）的申请
// 逐个迁移到目标期，单个失败不中断批次。userIDs 非空时只迁移这些用户。
func migrateRun(ctx context.Context, db *gorm.DB, eng applicationMigrator, out io.Writer, fromRunID, toRunID uint, userIDs []uint, force bool) (migrated, failed int, err error) {
	query := db.Where("run_id = ? AND state IN ?", fromRunID,
		[]string{database.StateAwaitingPayment, database.StateComplete})
	if len(userIDs) > 0 {
		query = query.Where("user_id IN ?", userIDs)
	}

	var apps []database.Application
	if err := query.Order("id ASC").Find(&apps).Error; err != nil {
		return 0, 0, fmt.Errorf("list applications: %w", err)
	}

	for _, app := range apps {
		target, err := eng.Migrate(ctx, app.ID, toRunID, force)
		if err != nil {
			failed++
			fmt.Fprintf(out, "application %d (user %d): FAILED: %v\n", app.ID, app.UserID, err)
			continue
		}
		migrated++
		fmt.Fprintf(out, "application %d (user %d) -> application %d (state=%s)\n",
			app.ID, app.UserID, target.ID, target.State)
	}
	return migrated, failed, nil
}

func parseUserIDs(raw string) ([]uint, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	var ids []uint
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		id, err := strconv.ParseUint(part, 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid user id %q", part)
		}
		ids = append(ids, uint(id))
	}
	return ids, nil
}

func runDefer(cfg *config.Config, db *gorm.DB, logger *slog.Logger, args []string) {
	fs := flag.NewFlagSet("defer", flag.ExitOnError)
	userID := fs.Uint("user-id", 0, "用户 ID（必填）")
	fromRunID := fs.Uint("from-run-id", 0, "原期 ID（必填）")
	toRunID := fs.Uint("to-run-id", 0, "目标期 ID（必填）")
	orderID := fs.Uint("order-id", 0, "关联订单 ID（必填）")
	force := fs.Bool("force", false, "跳过训练营与开放窗口检查")
	_ = fs.Parse(args)

	if *userID == 0 || *fromRunID == 0 || *toRunID == 0 || *orderID == 0 {
		log.Fatal("missing required flags: --user-id, --from-run-id, --to-run-id, --order-id")
	}

	_, dispatcher, cleanup := newEngine(cfg, db, logger)
	defer cleanup()

	svc := enrollment.NewService(db, dispatcher)
	if err := svc.Defer(context.Background(), *userID, *fromRunID, *toRunID, *orderID, *force); err != nil {
		log.Fatalf("defer enrollment: %v", err)
	}
	fmt.Printf("deferred enrollment of user %d: run %d -> run %d\n", *userID, *fromRunID, *toRunID)
}

func runResetInterview(cfg *config.Config, db *gorm.DB, logger *slog.Logger, args []string) {
	fs := flag.NewFlagSet("reset-interview", flag.ExitOnError)
	appID := fs.Uint("application-id", 0, "申请 ID（必填）")
	_ = fs.Parse(args)

	if *appID == 0 {
		log.Fatal("missing required flag: --application-id")
	}

	eng, _, cleanup := newEngine(cfg, db, logger)
	defer cleanup()

	app, err := eng.ResetInterviewState(context.Background(), *appID)
	if err != nil {
		log.Fatalf("reset interview: %v", err)
	}
	fmt.Printf("reset interview state of application %d (state=%s)\n", app.ID, app.State)
}

func runSaveState(cfg *config.Config, db *gorm.DB, logger *slog.Logger, args []string) {
	fs := flag.NewFlagSet("save-state", flag.ExitOnError)
	appID := fs.Uint("application-id", 0, "申请 ID（必填）")
	_ = fs.Parse(args)

	if *appID == 0 {
		log.Fatal("missing required flag: --application-id")
	}

	eng, _, cleanup := newEngine(cfg, db, logger)
	defer cleanup()

	app, err := eng.SaveDerivedState(context.Background(), *appID)
	if err != nil {
		log.Fatalf("save derived state: %v", err)
	}
	fmt.Printf("application %d state=%s\n", app.ID, app.State)
}

func generateRandomPassword(bytesLen int) (string, error) {
	if bytesLen <= 0 {
		bytesLen = 24
	}
	buf := make([]byte, bytesLen)
	if _, err := rand.Read(buf); err != nil {
		return "", fmt.Errorf("read random bytes: %w", err)
	}
	return base64.RawURLEncoding.EncodeToString(buf), nil
}
