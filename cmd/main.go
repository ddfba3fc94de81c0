package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"net/http"
	"os"
	"strconv"

	"github.com/mlvik/coursekit/internal/course"
	"github.com/mlvik/coursekit/internal/credential"
	"github.com/mlvik/coursekit/internal/domain"
	infra "github.com/mlvik/coursekit/internal/infrastructure"
	"github.com/mlvik/coursekit/internal/infrastructure/driver"
	"github.com/mlvik/coursekit/internal/infrastructure/logging"
	"github.com/mlvik/coursekit/internal/mockserver"
	"github.com/mlvik/coursekit/internal/pipeline"
	"github.com/mlvik/coursekit/internal/session"
	"github.com/spf13/pflag"
	"go.uber.org/zap"
)

func main() {
	log.SetFlags(log.Lshortfile | log.Ldate | log.Ltime)
	option, err := infra.InitConfig()
	if err != nil {
		log.Fatal(err)
	}

	logger, err := logging.NewLogger(&logging.Config{
		FilePath: option.Logging.FilePath,
		Level:    option.Logging.Level,
		AppID:    option.AppID,
		Env:      option.Env,
	})
	if err != nil {
		log.Fatalf("Failed to create logger: %s\n", err)
	}
	logger = logger.With(
		zap.String("service.id", option.AppID),
	)
	defer logger.Sync()

	kv, err := newKVStore(option)
	if err != nil {
		log.Fatalf("Failed to create kv store: %s\n", err)
	}
	logger.Debug("Create kv store", zap.String("kv.driver", option.KVStore.Driver))

	if option.Backend.Mock {
		mock := mockserver.New(&mockserver.Config{
			TokenHeader: option.Backend.TokenHeader,
			TokenTTL:    option.Backend.TokenTTL,
			JWTMethod:   option.Security.JWTMethod,
			JWTSecret:   option.Security.JWTSecret,
			IDLength:    option.Security.IDLength,
			APM:         option.DevOP.APM,
		}, logger)
		addr := fmt.Sprintf("%s:%d", option.MockServer.Host, option.MockServer.Port)
		go func() {
			if err := mock.Start(addr); err != nil && err != http.ErrServerClosed {
				log.Fatal(err)
			}
		}()
		logger.Info("Mock backend listening", zap.String("server.address", addr))
	}

	credentialStore := credential.NewStore(kv, logger)
	sessionManager := session.NewManager(&session.Config{
		BaseURL:     option.Backend.BaseURL,
		TokenHeader: option.Backend.TokenHeader,
		TokenTTL:    option.Backend.TokenTTL,
		Timeout:     option.Backend.Timeout,
	}, credentialStore, logger)
	requestPipeline := pipeline.New(&pipeline.Config{
		BaseURL: option.Backend.BaseURL,
		Timeout: option.Backend.Timeout,
	}, sessionManager, logger)
	service := course.NewService(sessionManager, requestPipeline, kv, option.Backend.Mock, logger)

	ctx := context.Background()
	if err := sessionManager.Restore(ctx); err != nil {
		logger.Warn("Failed to restore persisted session", zap.Error(err))
	}

	if err := runCommand(ctx, service, sessionManager, pflag.Args()); err != nil {
		logger.Error(err.Error())
		os.Exit(1)
	}
}

func newKVStore(option *infra.AppConfig) (driver.KeyValueDB, error) {
	switch option.KVStore.Driver {
	case "redis":
		return driver.NewRedisClient(option.KVStore.Host, option.KVStore.Port, option.KVStore.Password), nil
	case "sqlite":
		return driver.NewSQLiteKV(option.KVStore.Path)
	case "memory":
		return driver.NewMemoryKV(), nil
	}
	return nil, fmt.Errorf("unsupported kv driver: %s", option.KVStore.Driver)
}

func runCommand(ctx context.Context, service domain.CourseUseCase, sessionManager *session.Manager, args []string) error {
	if len(args) == 0 {
		return fmt.Errorf("usage: coursekit <login|logout|courses|detail|progress|done> [args]")
	}

	switch args[0] {
	case "login":
		if len(args) != 3 {
			return fmt.Errorf("usage: coursekit login <identifier> <secret>")
		}
		cred, err := service.Login(ctx, args[1], args[2])
		if err != nil {
			return err
		}
		return printJSON(map[string]interface{}{"user_id": cred.UserID})
	case "logout":
		return service.Logout(ctx)
	case "courses":
		records, err := service.ListCourses(ctx, sessionManager.Credential().UserID)
		if err != nil {
			return err
		}
		return printJSON(records)
	case "detail":
		courseID, err := parseID(args, 1, "detail <courseID>")
		if err != nil {
			return err
		}
		detail, err := service.GetCourseDetail(ctx, courseID)
		if err != nil {
			return err
		}
		return printJSON(detail)
	case "progress":
		courseID, err := parseID(args, 1, "progress <courseID>")
		if err != nil {
			return err
		}
		summary, err := service.GetProgress(ctx, courseID)
		if err != nil {
			return err
		}
		return printJSON(summary)
	case "done":
		courseID, err := parseID(args, 1, "done <courseID> [lessonID]")
		if err != nil {
			return err
		}
		var lessonID *int64
		if len(args) > 2 {
			id, err := strconv.ParseInt(args[2], 10, 64)
			if err != nil {
				return fmt.Errorf("bad lesson id: %s", args[2])
			}
			lessonID = &id
		}
		summary, err := service.SetLessonDone(ctx, courseID, lessonID, true)
		if err != nil {
			return err
		}
		return printJSON(summary)
	}
	return fmt.Errorf("unknown command: %s", args[0])
}

func parseID(args []string, index int, usage string) (int64, error) {
	if len(args) <= index {
		return 0, fmt.Errorf("usage: coursekit %s", usage)
	}
	id, err := strconv.ParseInt(args[index], 10, 64)
	if err != nil {
		return 0, fmt.Errorf("bad id: %s", args[index])
	}
	return id, nil
}

func printJSON(v interface{}) error {
	encoded, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(encoded))
	return nil
}
