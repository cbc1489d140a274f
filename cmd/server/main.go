package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"boxchat/internal/config"
	"boxchat/internal/repository/memory"
	"boxchat/internal/repository/message"
	"boxchat/internal/repository/user"
	redisSvc "boxchat/internal/service/redis"
	"boxchat/internal/service/server"
	"boxchat/internal/utils/log"

	"github.com/redis/go-redis/v9"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.uber.org/zap"
)

func main() {
	cfg := config.LoadServer()
	if err := log.Init(cfg.LogLevel, cfg.LogFile); err != nil {
		log.Fatal("init logger failed", zap.Error(err))
	}
	defer log.Sync()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var (
		users    server.UserStore
		messages server.MessageStore
	)
	switch cfg.Storage {
	case "memory":
		log.Warn("using in-memory storage, data is lost on exit")
		users, messages = memory.NewUserStore(), memory.NewMessageStore()
	default:
		mongoDBClient, err := initMongo(cfg.MongoURI)
		if err != nil {
			log.Fatal("connect mongo failed", zap.Error(err))
		}
		defer mongoDBClient.Disconnect(context.Background())

		db := mongoDBClient.Database(cfg.MongoDB)
		userRepo, messageRepo := user.NewUserRepo(db), message.NewMessageRepo(db)
		if err := userRepo.EnsureIndexes(ctx); err != nil {
			log.Fatal("create user indexes failed", zap.Error(err))
		}
		if err := messageRepo.EnsureIndexes(ctx); err != nil {
			log.Fatal("create message indexes failed", zap.Error(err))
		}
		users, messages = userRepo, messageRepo
	}

	var broker server.Broker = server.NewLocalBroker()
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{
			Addr:     cfg.RedisAddr,
			Password: cfg.RedisPass,
			DB:       cfg.RedisDB,
		})
		redisService := redisSvc.NewRedis(rdb)
		if err := redisService.Ping(ctx); err != nil {
			log.Fatal("connect redis failed", zap.Error(err))
		}
		broker = server.NewRedisBroker(redisService)
	}
	defer broker.Close()

	s := server.NewHttpServer(users, messages, broker, server.NewTokens(cfg.JWTSecret, cfg.TokenTTL))
	if err := s.Run(ctx, cfg.Addr); err != nil {
		log.Error("relay stopped", zap.Error(err))
		os.Exit(1)
	}
	log.Info("relay shut down")
}

func initMongo(uri string) (*mongo.Client, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	client, err := mongo.Connect(ctx, options.Client().ApplyURI(uri))
	if err != nil {
		return nil, err
	}
	return client, client.Ping(ctx, nil)
}
