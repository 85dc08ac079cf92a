// SPDX-License-Identifier: Apache-2.0
// Copyright 2026 Keyfold Contributors

//go:build integration

package integration

import (
	"context"
	"sync"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	. "github.com/onsi/ginkgo/v2" //nolint:revive // ginkgo convention
	. "github.com/onsi/gomega"    //nolint:revive // gomega convention
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/samber/oops"
	"github.com/testcontainers/testcontainers-go"
	tcpostgres "github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/bcrypt"

	"github.com/keyfold/keyfold/internal/auth"
	authpg "github.com/keyfold/keyfold/internal/auth/postgres"
	"github.com/keyfold/keyfold/internal/observability"
	"github.com/keyfold/keyfold/internal/store"
)

// captureNotifier records delivered secrets per recipient instead of sending
// anything. The services under test never see a delivery failure.
type captureNotifier struct {
	mu            sync.Mutex
	verifySecrets map[string]string
	resetSecrets  map[string]string
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{
		verifySecrets: make(map[string]string),
		resetSecrets:  make(map[string]string),
	}
}

func (n *captureNotifier) SendVerificationEmail(_ context.Context, to, secret string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.verifySecrets[to] = secret
	return nil
}

func (n *captureNotifier) SendPasswordResetEmail(_ context.Context, to, secret string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.resetSecrets[to] = secret
	return nil
}

func (n *captureNotifier) verifySecret(to string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.verifySecrets[to]
}

func (n *captureNotifier) resetSecret(to string) string {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.resetSecrets[to]
}

var _ auth.Notifier = (*captureNotifier)(nil)

// testEnv holds all the resources needed for the lifecycle tests.
type testEnv struct {
	ctx       context.Context
	cancel    context.CancelFunc
	container testcontainers.Container
	pool      *pgxpool.Pool

	accounts      *authpg.AccountRepository
	refreshTokens *authpg.RefreshTokenRepository
	verifications *authpg.VerificationTokenRepository

	notifier *captureNotifier
	codec    *auth.TokenCodec
	metrics  *observability.Metrics
	service  *auth.Service
	resets   *auth.PasswordResetService
}

// setupTestEnv starts PostgreSQL, runs migrations, and wires the real
// services against it.
func setupTestEnv() (*testEnv, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Minute)

	env := &testEnv{
		ctx:    ctx,
		cancel: cancel,
	}

	container, err := tcpostgres.Run(ctx,
		"postgres:16-alpine",
		tcpostgres.WithDatabase("keyfold_test"),
		tcpostgres.WithUsername("keyfold"),
		tcpostgres.WithPassword("keyfold"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(30*time.Second),
		),
	)
	if err != nil {
		cancel()
		return nil, err
	}
	env.container = container

	connStr, err := container.ConnectionString(ctx, "sslmode=disable")
	if err != nil {
		env.cleanup()
		return nil, err
	}

	migrator, err := store.NewMigrator(connStr)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	if err := migrator.Up(); err != nil {
		_ = migrator.Close()
		env.cleanup()
		return nil, err
	}
	_ = migrator.Close()

	env.pool, err = store.Connect(ctx, connStr)
	if err != nil {
		env.cleanup()
		return nil, err
	}

	env.accounts = authpg.NewAccountRepository(env.pool)
	env.refreshTokens = authpg.NewRefreshTokenRepository(env.pool)
	env.verifications = authpg.NewVerificationTokenRepository(env.pool)
	env.notifier = newCaptureNotifier()

	env.codec, err = auth.NewTokenCodec([]byte("0123456789abcdef0123456789abcdef"), 15*time.Minute)
	if err != nil {
		env.cleanup()
		return nil, err
	}

	hasher := auth.NewArgon2idHasher()

	env.metrics = observability.NewMetrics(prometheus.NewRegistry())

	env.service, err = auth.NewAuthService(
		env.accounts, env.refreshTokens, env.verifications,
		hasher, env.codec, env.notifier, 7*24*time.Hour,
	)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	env.service.WithMetrics(env.metrics.RecordAuthOperation)

	env.resets, err = auth.NewPasswordResetService(
		env.accounts, env.verifications, env.refreshTokens,
		hasher, env.notifier,
	)
	if err != nil {
		env.cleanup()
		return nil, err
	}
	env.resets.WithMetrics(env.metrics.RecordAuthOperation)

	return env, nil
}

// cleanup releases all test resources.
func (env *testEnv) cleanup() {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if env.pool != nil {
		env.pool.Close()
	}
	if env.container != nil {
		_ = env.container.Terminate(ctx)
	}
	env.cancel()
}

// register creates an account and returns the captured verification secret.
func (env *testEnv) register(email, password string) string {
	result, err := env.service.Register(env.ctx, email, password)
	Expect(err).NotTo(HaveOccurred())
	Expect(result.AccountID.String()).To(HaveLen(26))

	secret := env.notifier.verifySecret(email)
	Expect(secret).NotTo(BeEmpty())
	return secret
}

// registerVerified creates an account with a verified email.
func (env *testEnv) registerVerified(email, password string) {
	secret := env.register(email, password)
	Expect(env.service.VerifyEmail(env.ctx, secret)).To(Succeed())
}

func errorCode(err error) string {
	if oopsErr, ok := oops.AsOops(err); ok {
		if code, ok := oopsErr.Code().(string); ok {
			return code
		}
	}
	return ""
}

var _ = Describe("Account lifecycle", func() {
	var env *testEnv

	const password = "Str0ng!passw0rd"

	BeforeEach(func() {
		var err error
		env, err = setupTestEnv()
		Expect(err).NotTo(HaveOccurred())
	})

	AfterEach(func() {
		env.cleanup()
	})

	Describe("registration and email verification", func() {
		It("walks register, verify, login, refresh, logout end to end", func() {
			secret := env.register("alice@example.com", password)

			// Login is refused until the email is verified.
			_, err := env.service.Login(env.ctx, "alice@example.com", password, "cli")
			Expect(err).To(HaveOccurred())
			Expect(errorCode(err)).To(Equal("AUTH_INVALID_CREDENTIALS"))

			Expect(env.service.VerifyEmail(env.ctx, secret)).To(Succeed())

			// The verification token is single-use.
			err = env.service.VerifyEmail(env.ctx, secret)
			Expect(err).To(HaveOccurred())
			Expect(errorCode(err)).To(Equal("AUTH_TOKEN_INVALID"))

			login, err := env.service.Login(env.ctx, "alice@example.com", password, "cli")
			Expect(err).NotTo(HaveOccurred())
			Expect(login.RefreshSecret).NotTo(BeEmpty())

			claims, err := env.codec.VerifyAccessToken(login.AccessToken)
			Expect(err).NotTo(HaveOccurred())
			Expect(claims.AccountID).To(Equal(login.Account.ID.String()))

			accessToken, err := env.service.Refresh(env.ctx, login.RefreshSecret)
			Expect(err).NotTo(HaveOccurred())
			_, err = env.codec.VerifyAccessToken(accessToken)
			Expect(err).NotTo(HaveOccurred())

			Expect(env.service.Logout(env.ctx, login.RefreshSecret)).To(Succeed())

			_, err = env.service.Refresh(env.ctx, login.RefreshSecret)
			Expect(err).To(HaveOccurred())
			Expect(errorCode(err)).To(Equal("AUTH_TOKEN_INVALID"))
		})

		It("rejects a duplicate registration regardless of email case", func() {
			env.register("bob@example.com", password)

			_, err := env.service.Register(env.ctx, "BOB@example.com", password)
			Expect(err).To(HaveOccurred())
			Expect(errorCode(err)).To(Equal("AUTH_EMAIL_EXISTS"))
		})
	})

	Describe("login failure lockout", func() {
		It("locks the account after repeated failures even with the right password", func() {
			env.registerVerified("carol@example.com", password)

			for range auth.LockoutThreshold {
				_, err := env.service.Login(env.ctx, "carol@example.com", "wrong-password", "cli")
				Expect(err).To(HaveOccurred())
				Expect(errorCode(err)).To(Equal("AUTH_INVALID_CREDENTIALS"))
			}

			_, err := env.service.Login(env.ctx, "carol@example.com", password, "cli")
			Expect(err).To(HaveOccurred())
			Expect(errorCode(err)).To(Equal("AUTH_ACCOUNT_LOCKED"))
		})
	})

	Describe("legacy bcrypt credentials", func() {
		It("upgrades a bcrypt hash to argon2id on successful login", func() {
			bcryptHash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
			Expect(err).NotTo(HaveOccurred())

			account, err := auth.NewAccount("dave@example.com", string(bcryptHash))
			Expect(err).NotTo(HaveOccurred())
			account.EmailVerified = true
			Expect(env.accounts.Create(env.ctx, account)).To(Succeed())

			login, err := env.service.Login(env.ctx, "dave@example.com", password, "cli")
			Expect(err).NotTo(HaveOccurred())
			Expect(login.AccessToken).NotTo(BeEmpty())

			stored, err := env.accounts.GetByID(env.ctx, account.ID)
			Expect(err).NotTo(HaveOccurred())
			Expect(stored.PasswordHash).To(HavePrefix("$argon2id$"),
				"hash should be upgraded from bcrypt on login")

			// The upgraded hash still verifies.
			_, err = env.service.Login(env.ctx, "dave@example.com", password, "cli")
			Expect(err).NotTo(HaveOccurred())
		})
	})

	Describe("password reset", func() {
		It("resets the password, consumes the token, and revokes sessions", func() {
			const newPassword = "An0ther!secret9"

			env.registerVerified("erin@example.com", password)

			login, err := env.service.Login(env.ctx, "erin@example.com", password, "cli")
			Expect(err).NotTo(HaveOccurred())

			Expect(env.resets.RequestReset(env.ctx, "erin@example.com")).To(Succeed())
			secret := env.notifier.resetSecret("erin@example.com")
			Expect(secret).NotTo(BeEmpty())

			Expect(env.resets.ResetPassword(env.ctx, secret, newPassword)).To(Succeed())

			// The reset token is single-use.
			err = env.resets.ResetPassword(env.ctx, secret, newPassword)
			Expect(err).To(HaveOccurred())
			Expect(errorCode(err)).To(Equal("AUTH_TOKEN_INVALID"))

			// Every open session was revoked with the old credential.
			_, err = env.service.Refresh(env.ctx, login.RefreshSecret)
			Expect(err).To(HaveOccurred())
			Expect(errorCode(err)).To(Equal("AUTH_TOKEN_INVALID"))

			_, err = env.service.Login(env.ctx, "erin@example.com", password, "cli")
			Expect(err).To(HaveOccurred())
			Expect(errorCode(err)).To(Equal("AUTH_INVALID_CREDENTIALS"))

			relogin, err := env.service.Login(env.ctx, "erin@example.com", newPassword, "cli")
			Expect(err).NotTo(HaveOccurred())
			Expect(relogin.AccessToken).NotTo(BeEmpty())
		})

		It("accepts a reset request for an unknown email without revealing anything", func() {
			Expect(env.resets.RequestReset(env.ctx, "nobody@example.com")).To(Succeed())
			Expect(env.notifier.resetSecret("nobody@example.com")).To(BeEmpty())
		})
	})

	Describe("operation metrics", func() {
		It("counts each use case by outcome", func() {
			env.registerVerified("grace@example.com", password)

			_, err := env.service.Login(env.ctx, "grace@example.com", password, "cli")
			Expect(err).NotTo(HaveOccurred())

			_, err = env.service.Login(env.ctx, "grace@example.com", "Wr0ng-"+password, "cli")
			Expect(err).To(HaveOccurred())

			Expect(env.resets.RequestReset(env.ctx, "grace@example.com")).To(Succeed())

			success := env.metrics.AuthOperationsTotal.WithLabelValues("login", "success")
			Expect(testutil.ToFloat64(success)).To(BeNumerically("==", 1))

			failure := env.metrics.AuthOperationsTotal.WithLabelValues("login", "failure")
			Expect(testutil.ToFloat64(failure)).To(BeNumerically("==", 1))

			registered := env.metrics.AuthOperationsTotal.WithLabelValues("register", "success")
			Expect(testutil.ToFloat64(registered)).To(BeNumerically("==", 1))

			requested := env.metrics.AuthOperationsTotal.WithLabelValues("reset_request", "success")
			Expect(testutil.ToFloat64(requested)).To(BeNumerically("==", 1))
		})
	})

	Describe("retention sweep", func() {
		It("removes expired and revoked token records but keeps live ones", func() {
			env.registerVerified("frank@example.com", password)

			login, err := env.service.Login(env.ctx, "frank@example.com", password, "cli")
			Expect(err).NotTo(HaveOccurred())

			stale, err := env.service.Login(env.ctx, "frank@example.com", password, "old-phone")
			Expect(err).NotTo(HaveOccurred())
			Expect(env.service.Logout(env.ctx, stale.RefreshSecret)).To(Succeed())

			revoked, err := env.refreshTokens.DeleteRevoked(env.ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(revoked).To(BeNumerically(">=", 1))

			// The live session still refreshes after the sweep.
			_, err = env.service.Refresh(env.ctx, login.RefreshSecret)
			Expect(err).NotTo(HaveOccurred())

			expired, err := env.refreshTokens.DeleteExpired(env.ctx)
			Expect(err).NotTo(HaveOccurred())
			Expect(expired).To(BeZero())

			_, err = env.verifications.DeleteExpired(env.ctx)
			Expect(err).NotTo(HaveOccurred())
		})
	})
})
