// Command groupwatchd runs the groupwatch server. It serves the public join
// endpoints and the session-authenticated admin API, and drives the
// background maintenance loop.
package main

import (
	"context"
	"errors"
	"io"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"gopkg.in/natefinch/lumberjack.v2"

	"groupwatch/api"
	"groupwatch/config"
	"groupwatch/handlers"
	"groupwatch/internal/database"
	"groupwatch/services/accounts"
	"groupwatch/services/addons"
	"groupwatch/services/backup"
	"groupwatch/services/groups"
	"groupwatch/services/invitations"
	"groupwatch/services/requests"
	"groupwatch/services/scheduler"
	"groupwatch/services/sessions"
	"groupwatch/services/stremio"
	"groupwatch/utils"
)

const shutdownTimeout = 15 * time.Second

func main() {
	env, err := config.LoadEnv()
	if err != nil {
		log.Fatalf("[server] Failed to load environment: %v", err)
	}

	if err := os.MkdirAll(env.LogDir, 0o755); err != nil {
		log.Fatalf("[server] Failed to create log directory: %v", err)
	}
	logFile := filepath.Join(env.LogDir, "groupwatch.log")
	log.SetOutput(io.MultiWriter(os.Stdout, &lumberjack.Logger{
		Filename:   logFile,
		MaxSize:    10, // megabytes
		MaxBackups: 5,
		MaxAge:     30, // days
		Compress:   true,
	}))

	log.Printf("[server] groupwatchd %s starting", handlers.ServerVersion())

	configManager, err := config.NewManager(env.DataDir)
	if err != nil {
		log.Fatalf("[server] Failed to load settings: %v", err)
	}
	settings := configManager.Get()

	db, err := database.NewDB(database.Config{
		DatabasePath: filepath.Join(env.DatabaseDir, "groupwatch.db"),
	})
	if err != nil {
		log.Fatalf("[server] Failed to open database: %v", err)
	}
	defer db.Close()

	accountsSvc, err := accounts.NewService(env.DataDir)
	if err != nil {
		log.Fatalf("[server] Failed to init accounts: %v", err)
	}
	sessionsSvc, err := sessions.NewService(env.DataDir, settings.SessionDuration())
	if err != nil {
		log.Fatalf("[server] Failed to init sessions: %v", err)
	}
	invitationsSvc, err := invitations.NewService(env.DataDir)
	if err != nil {
		log.Fatalf("[server] Failed to init invitations: %v", err)
	}
	groupsSvc, err := groups.NewService(env.DataDir)
	if err != nil {
		log.Fatalf("[server] Failed to init groups: %v", err)
	}
	addonsSvc, err := addons.NewService(env.DataDir)
	if err != nil {
		log.Fatalf("[server] Failed to init addons: %v", err)
	}

	provider := stremio.NewClient(stremio.Config{
		LinkBaseURL: settings.ProviderBaseURL,
		Origin:      settings.ProviderOrigin,
	})

	requestsSvc := requests.NewService(db, invitationsSvc, groupsSvc, addonsSvc, provider, settings.OAuthLinkTTL())

	backupSvc, err := backup.NewService(env.DataDir, db)
	if err != nil {
		log.Fatalf("[server] Failed to init backups: %v", err)
	}

	maintenance := scheduler.NewService(configManager, backupSvc, requestsSvc)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if err := maintenance.Start(ctx); err != nil {
		log.Fatalf("[server] Failed to start maintenance loop: %v", err)
	}

	// Expired admin sessions accumulate in the store until something sweeps
	// them.
	go func() {
		ticker := time.NewTicker(time.Hour)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				if removed := sessionsSvc.Cleanup(); removed > 0 {
					log.Printf("[server] Removed %d expired sessions", removed)
				}
			}
		}
	}()

	submitLimiter := api.NewIPRateLimiter(api.PerMinute(settings.SubmitPerMinute), settings.SubmitBurst)

	router := buildRouter(routerDeps{
		configManager:  configManager,
		db:             db,
		accountsSvc:    accountsSvc,
		sessionsSvc:    sessionsSvc,
		invitationsSvc: invitationsSvc,
		groupsSvc:      groupsSvc,
		addonsSvc:      addonsSvc,
		requestsSvc:    requestsSvc,
		backupSvc:      backupSvc,
		submitLimiter:  submitLimiter,
		logFile:        logFile,
	})

	server := &http.Server{
		Addr:              env.Addr,
		Handler:           router,
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("[server] Listening on %s", env.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("[server] Listen failed: %v", err)
		}
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	sig := <-sigCh
	log.Printf("[server] Received %s, shutting down", sig)

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("[server] HTTP shutdown: %v", err)
	}
	if err := maintenance.Stop(shutdownCtx); err != nil {
		log.Printf("[server] Maintenance stop: %v", err)
	}

	log.Printf("[server] Stopped")
}

type routerDeps struct {
	configManager  *config.Manager
	db             *database.DB
	accountsSvc    *accounts.Service
	sessionsSvc    *sessions.Service
	invitationsSvc *invitations.Service
	groupsSvc      *groups.Service
	addonsSvc      *addons.Service
	requestsSvc    *requests.Service
	backupSvc      *backup.Service
	submitLimiter  *api.IPRateLimiter
	logFile        string
}

// buildRouter assembles the full route table. The public join routes are
// unauthenticated; everything under /api/admin requires a valid session and
// account management additionally requires the master account.
func buildRouter(deps routerDeps) http.Handler {
	r := utils.NewRouter()

	r.HandleFunc("/api/version", handlers.NewVersionHandler().GetVersion).Methods(http.MethodGet)

	// Public join flow. Submission and link generation are rate limited per
	// IP; status polling is not, the join agent polls it continuously.
	joinHandler := handlers.NewJoinHandler(deps.requestsSvc, deps.invitationsSvc, deps.groupsSvc)
	invites := r.PathPrefix("/api/invitations").Subrouter()
	invites.HandleFunc("/{code}", joinHandler.GetInvitation).Methods(http.MethodGet)
	invites.HandleFunc("/{code}/status", joinHandler.GetStatus).Methods(http.MethodGet)
	invites.Handle("/{code}/requests", api.RateLimitHandlerFunc(deps.submitLimiter, joinHandler.Submit)).Methods(http.MethodPost)
	invites.Handle("/{code}/oauth", api.RateLimitHandlerFunc(deps.submitLimiter, joinHandler.GenerateOAuth)).Methods(http.MethodPost)
	invites.HandleFunc("/{code}/complete", joinHandler.Complete).Methods(http.MethodPost)

	authHandler := handlers.NewAuthHandler(deps.accountsSvc, deps.sessionsSvc)
	authRouter := r.PathPrefix("/api/auth").Subrouter()
	authRouter.HandleFunc("/login", authHandler.Login).Methods(http.MethodPost)
	authRouter.HandleFunc("/logout", authHandler.Logout).Methods(http.MethodPost)
	authRouter.HandleFunc("/me", authHandler.Me).Methods(http.MethodGet)
	authRouter.HandleFunc("/refresh", authHandler.Refresh).Methods(http.MethodPost)
	authRouter.HandleFunc("/change-password", authHandler.ChangePassword).Methods(http.MethodPost)

	admin := r.PathPrefix("/api/admin").Subrouter()
	admin.Use(api.AccountAuthMiddleware(deps.sessionsSvc))

	invitationsHandler := handlers.NewInvitationsHandler(deps.invitationsSvc, deps.groupsSvc, deps.requestsSvc, deps.configManager)
	admin.HandleFunc("/invitations", invitationsHandler.ListInvitations).Methods(http.MethodGet)
	admin.HandleFunc("/invitations", invitationsHandler.CreateInvitation).Methods(http.MethodPost)
	admin.HandleFunc("/invitations/{id}", invitationsHandler.GetInvitation).Methods(http.MethodGet)
	admin.HandleFunc("/invitations/{id}", invitationsHandler.UpdateInvitation).Methods(http.MethodPut)
	admin.HandleFunc("/invitations/{id}", invitationsHandler.DeleteInvitation).Methods(http.MethodDelete)
	admin.HandleFunc("/invitations/{id}/enabled", invitationsHandler.SetInvitationEnabled).Methods(http.MethodPut)

	requestsHandler := handlers.NewRequestsHandler(deps.requestsSvc)
	admin.HandleFunc("/requests", requestsHandler.ListRequests).Methods(http.MethodGet)
	admin.HandleFunc("/requests/{id}", requestsHandler.GetRequest).Methods(http.MethodGet)
	admin.HandleFunc("/requests/{id}", requestsHandler.DeleteRequest).Methods(http.MethodDelete)
	admin.HandleFunc("/requests/{id}/accept", requestsHandler.AcceptRequest).Methods(http.MethodPost)
	admin.HandleFunc("/requests/{id}/reject", requestsHandler.RejectRequest).Methods(http.MethodPost)
	admin.HandleFunc("/requests/{id}/oauth", requestsHandler.ClearRequestOAuth).Methods(http.MethodDelete)

	groupsHandler := handlers.NewGroupsHandler(deps.groupsSvc, deps.addonsSvc, deps.invitationsSvc, deps.db)
	admin.HandleFunc("/groups", groupsHandler.ListGroups).Methods(http.MethodGet)
	admin.HandleFunc("/groups", groupsHandler.CreateGroup).Methods(http.MethodPost)
	admin.HandleFunc("/groups/{id}", groupsHandler.GetGroup).Methods(http.MethodGet)
	admin.HandleFunc("/groups/{id}", groupsHandler.UpdateGroup).Methods(http.MethodPut)
	admin.HandleFunc("/groups/{id}", groupsHandler.DeleteGroup).Methods(http.MethodDelete)
	admin.HandleFunc("/groups/{id}/members", groupsHandler.ListGroupMembers).Methods(http.MethodGet)

	addonsHandler := handlers.NewAddonsHandler(deps.addonsSvc, deps.groupsSvc)
	admin.HandleFunc("/addons", addonsHandler.ListAddons).Methods(http.MethodGet)
	admin.HandleFunc("/addons", addonsHandler.CreateAddon).Methods(http.MethodPost)
	admin.HandleFunc("/addons/{id}", addonsHandler.UpdateAddon).Methods(http.MethodPut)
	admin.HandleFunc("/addons/{id}", addonsHandler.DeleteAddon).Methods(http.MethodDelete)

	membersHandler := handlers.NewMembersHandler(deps.db, deps.requestsSvc, deps.groupsSvc)
	admin.HandleFunc("/members", membersHandler.ListMembers).Methods(http.MethodGet)
	admin.HandleFunc("/members/{id}", membersHandler.DeleteMember).Methods(http.MethodDelete)

	backupHandler := handlers.NewBackupHandler(deps.backupSvc)
	admin.HandleFunc("/backups", backupHandler.ListBackups).Methods(http.MethodGet)
	admin.HandleFunc("/backups", backupHandler.CreateBackup).Methods(http.MethodPost)
	admin.HandleFunc("/backups/{filename}", backupHandler.DeleteBackup).Methods(http.MethodDelete)
	admin.HandleFunc("/backups/{filename}/download", backupHandler.DownloadBackup).Methods(http.MethodGet)
	admin.HandleFunc("/backups/{filename}/restore", backupHandler.RestoreBackup).Methods(http.MethodPost)

	settingsHandler := handlers.NewSettingsHandler(deps.configManager)
	settingsHandler.SetRequestsService(deps.requestsSvc)
	settingsHandler.SetSessionsService(deps.sessionsSvc)
	settingsHandler.SetSubmitLimiter(deps.submitLimiter)
	admin.HandleFunc("/settings", settingsHandler.GetSettings).Methods(http.MethodGet)
	admin.HandleFunc("/settings", settingsHandler.PutSettings).Methods(http.MethodPut)

	admin.HandleFunc("/logs", handlers.NewLogsHandler(deps.logFile).GetLogs).Methods(http.MethodGet)

	// Account management changes who can administer the system, so it is
	// restricted to the master account.
	accountsHandler := handlers.NewAccountsHandler(deps.accountsSvc, deps.sessionsSvc)
	accountsRouter := admin.PathPrefix("/accounts").Subrouter()
	accountsRouter.Use(api.MasterOnlyMiddleware())
	accountsRouter.HandleFunc("", accountsHandler.List).Methods(http.MethodGet)
	accountsRouter.HandleFunc("", accountsHandler.Create).Methods(http.MethodPost)
	accountsRouter.HandleFunc("/default-password", accountsHandler.HasDefaultPassword).Methods(http.MethodGet)
	accountsRouter.HandleFunc("/{accountID}", accountsHandler.Get).Methods(http.MethodGet)
	accountsRouter.HandleFunc("/{accountID}", accountsHandler.Delete).Methods(http.MethodDelete)
	accountsRouter.HandleFunc("/{accountID}/username", accountsHandler.Rename).Methods(http.MethodPut)
	accountsRouter.HandleFunc("/{accountID}/reset-password", accountsHandler.ResetPassword).Methods(http.MethodPost)

	// Preflight catch-all: the CORS middleware answers OPTIONS once any
	// route matches, this makes every API path match.
	r.PathPrefix("/api/").Methods(http.MethodOptions).HandlerFunc(authHandler.Options)

	return r
}
