package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"

	"courseadmin/internal/api"
	"courseadmin/internal/db"
	"courseadmin/internal/repository"
	"courseadmin/internal/services"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log := logrus.New()
	log.SetFormatter(&logrus.JSONFormatter{})
	if lvl, err := logrus.ParseLevel(os.Getenv("LOG_LEVEL")); err == nil {
		log.SetLevel(lvl)
	}

	database, err := db.ConnectFromEnv(ctx)
	if err != nil {
		log.WithError(err).Fatal("database connection failed")
	}
	defer func() {
		if err := database.Close(); err != nil {
			log.WithError(err).Error("database close error")
		}
	}()

	if err := db.Migrate(ctx, database.SQL); err != nil {
		log.WithError(err).Fatal("migrations failed")
	}

	users := repository.NewUserRepository(database.SQL, log)
	companies := repository.NewCompanyRepository(database.SQL, log)
	centers := repository.NewCenterRepository(database.SQL, log)
	assignments := repository.NewAssignmentRepository(database.SQL, log)
	decisions := repository.NewDecisionRepository(database.SQL, log)
	jobs := repository.NewJobRepository(database.SQL, log)
	failed := repository.NewFailedImportRepository(database.SQL, log)

	matcher := services.NewMatcher(users, services.DefaultMatcherConfig(), log)
	pipeline := services.NewPipeline(users, companies, centers, assignments, decisions, matcher, log)
	imports := services.NewImportService(jobs, failed, pipeline, log)
	decisionSvc := services.NewDecisionService(decisions, users, pipeline, log)

	// Any job still marked processing was left behind by a previous instance
	// and will never finish; fail them all now so pollers see a terminal
	// state, however recent their last progress update was.
	if n, err := imports.RecoverOrphaned(ctx); err != nil {
		log.WithError(err).Error("orphaned job recovery failed")
	} else if n > 0 {
		log.WithField("recovered", n).Warn("orphaned import jobs marked failed")
	}

	router := api.NewRouter(&api.Server{
		Database:  database,
		Import:    imports,
		Decisions: decisionSvc,
	})

	addr := os.Getenv("LISTEN_ADDR")
	if addr == "" {
		addr = ":8080"
	}
	srv := &http.Server{
		Addr:              addr,
		Handler:           router,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		log.WithField("addr", addr).Info("server listening")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.WithError(err).Fatal("server failed")
		}
	}()

	<-ctx.Done()
	stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("server shutdown error")
	}
}
