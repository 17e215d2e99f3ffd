package authflow

import (
	"context"
	"errors"
	"fmt"

	"github.com/dropDatabas3/cilogonauth/internal/claims"
	"github.com/dropDatabas3/cilogonauth/internal/config"
	"github.com/dropDatabas3/cilogonauth/internal/domain/repository"
	"github.com/dropDatabas3/cilogonauth/internal/hooks"
	"github.com/dropDatabas3/cilogonauth/internal/metrics"
	"github.com/dropDatabas3/cilogonauth/internal/oauth"
	"github.com/dropDatabas3/cilogonauth/internal/observability/logger"
	"github.com/dropDatabas3/cilogonauth/internal/session"
)

// login resuelve la cuenta de (provider, sub), la crea si hace falta y
// abre la sesión.
func (s *service) login(ctx context.Context, sess *session.Session, res *CallbackResult, client oauth.Client, hc *hooks.Context) error {
	log := logger.From(ctx)

	account, err := s.linkedAccount(ctx, hc.ProviderID, hc.Sub)
	if err != nil {
		log.Error("link lookup failed", logger.Err(err))
		s.flash(sess, res, session.LevelError, failureMessage(client))
		return err
	}

	d := s.hooks.PreAuthorize(ctx, account, hc)
	if d.Deny {
		log.Info("login denied by pre-authorize hook")
		s.flash(sess, res, session.LevelError, fmt.Sprintf("Logging in with %s has been denied.", client.Label()))
		return ErrAuthorizationDenied
	}
	// Un hook puede aportar la cuenta para una identidad sin vínculo.
	needLink := account == nil && d.Account != nil
	account = d.Account

	created := false
	if account == nil {
		account, created, err = s.register(ctx, sess, res, client, hc)
		if err != nil {
			return err
		}
	} else {
		if s.policy.AlwaysSaveUserinfo || needLink {
			if err := s.saveClaims(ctx, account, hc, false); err != nil {
				log.Error("saving claims failed", logger.AccountID(account.ID), logger.Err(err))
				s.flash(sess, res, session.LevelError, failureMessage(client))
				return err
			}
		}
		if needLink {
			if err := s.link(ctx, account.ID, hc); err != nil {
				log.Error("linking substituted account failed", logger.AccountID(account.ID), logger.Err(err))
				s.flash(sess, res, session.LevelError, failureMessage(client))
				if repository.IsConflict(err) {
					return ErrLinkRace
				}
				return fmt.Errorf("%w: create link: %v", ErrPersistence, err)
			}
		}
	}

	res.AccountID = account.ID
	res.Created = created

	if !account.Active() {
		if created {
			log.Info("account created pending approval", logger.AccountID(account.ID))
			s.flash(sess, res, session.LevelStatus,
				"Thank you for applying for an account. Your account is currently pending approval by the site administrator.")
			return ErrPendingApproval
		}
		log.Info("blocked account tried to log in", logger.AccountID(account.ID))
		s.flash(sess, res, session.LevelError,
			fmt.Sprintf("The username %s has not been activated or is blocked.", account.Username))
		return ErrAccountBlocked
	}

	sess.Login(account.ID)
	s.hooks.PostAuthorize(ctx, account, hc)

	log.Info("login completed", logger.AccountID(account.ID), logger.Bool("created", created))
	return nil
}

// connect vincula (provider, sub) con la cuenta logueada.
func (s *service) connect(ctx context.Context, sess *session.Session, res *CallbackResult, client oauth.Client, accountID string, hc *hooks.Context) error {
	log := logger.From(ctx).With(logger.AccountID(accountID))

	account, err := s.accounts.GetByID(ctx, accountID)
	if err != nil {
		log.Error("loading account to connect failed", logger.Err(err))
		s.flash(sess, res, session.LevelError, failureMessage(client))
		return fmt.Errorf("%w: load account: %v", ErrPersistence, err)
	}
	res.AccountID = account.ID

	alreadyLinked := false
	owner, err := s.links.Lookup(ctx, hc.ProviderID, hc.Sub)
	switch {
	case err == nil && owner != account.ID:
		log.Warn("identity already connected to another account")
		s.flash(sess, res, session.LevelError,
			fmt.Sprintf("Another user is already connected to this %s account.", client.Label()))
		return ErrAlreadyConnected
	case err == nil:
		alreadyLinked = true
	case !repository.IsNotFound(err):
		s.flash(sess, res, session.LevelError, failureMessage(client))
		return fmt.Errorf("%w: lookup link: %v", ErrPersistence, err)
	}

	// En connect la cuenta es siempre la de la sesión; una sustitución se ignora.
	if d := s.hooks.PreAuthorize(ctx, account, hc); d.Deny {
		log.Info("connect denied by pre-authorize hook")
		s.flash(sess, res, session.LevelError, fmt.Sprintf("Connecting with %s has been denied.", client.Label()))
		return ErrAuthorizationDenied
	}

	if s.policy.AlwaysSaveUserinfo {
		if err := s.saveClaims(ctx, account, hc, false); err != nil {
			log.Error("saving claims failed", logger.Err(err))
			s.flash(sess, res, session.LevelError, failureMessage(client))
			return err
		}
	}

	if !alreadyLinked {
		if err := s.link(ctx, account.ID, hc); err != nil {
			if repository.IsConflict(err) {
				s.flash(sess, res, session.LevelError,
					fmt.Sprintf("Another user is already connected to this %s account.", client.Label()))
				return ErrAlreadyConnected
			}
			log.Error("creating link failed", logger.Err(err))
			s.flash(sess, res, session.LevelError, failureMessage(client))
			return fmt.Errorf("%w: create link: %v", ErrPersistence, err)
		}
	}

	s.hooks.PostAuthorize(ctx, account, hc)
	s.flash(sess, res, session.LevelStatus, fmt.Sprintf("Account successfully connected with %s.", client.Label()))
	log.Info("account connected", logger.Bool("already_linked", alreadyLinked))
	return nil
}

// linkedAccount retorna nil sin error cuando no hay vínculo.
func (s *service) linkedAccount(ctx context.Context, providerID, sub string) (*repository.Account, error) {
	id, err := s.links.Lookup(ctx, providerID, sub)
	if repository.IsNotFound(err) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("%w: lookup link: %v", ErrPersistence, err)
	}
	a, err := s.accounts.GetByID(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("%w: load account %s: %v", ErrPersistence, id, err)
	}
	return a, nil
}

// register resuelve una identidad sin vínculo. Todo el tramo corre dentro
// de singleflight por (provider, sub): callbacks concurrentes del mismo
// usuario comparten un único resultado. El tramo compartido no hereda la
// cancelación del primer caller.
func (s *service) register(ctx context.Context, sess *session.Session, res *CallbackResult, client oauth.Client, hc *hooks.Context) (*repository.Account, bool, error) {
	log := logger.From(ctx)

	type outcome struct {
		account *repository.Account
		created bool
	}
	v, err, shared := s.creating.Do(hc.ProviderID+"\x00"+hc.Sub, func() (any, error) {
		a, created, err := s.resolveUnlinked(context.WithoutCancel(ctx), hc)
		return outcome{a, created}, err
	})
	if err != nil {
		switch {
		case errors.Is(err, ErrRegistrationConflict):
			email := hc.UserInfo.String("email")
			log.Warn("e-mail collides with an unlinked account", logger.Email(email))
			s.flash(sess, res, session.LevelError, fmt.Sprintf("The e-mail address %s is already taken.", email))
		case errors.Is(err, ErrRegistrationClosed):
			log.Info("registration closed to visitors")
			s.flash(sess, res, session.LevelError, "Only site administrators can create new user accounts.")
		default:
			log.Error("account resolution failed", logger.Err(err))
			s.flash(sess, res, session.LevelError, failureMessage(client))
		}
		return nil, false, err
	}

	out := v.(outcome)
	account := out.account
	if shared {
		cp := *account
		account = &cp
	}
	hc.IsNew = out.created
	return account, out.created, nil
}

// resolveUnlinked reconcilia por e-mail o crea una cuenta nueva según la
// política de registro.
func (s *service) resolveUnlinked(ctx context.Context, hc *hooks.Context) (*repository.Account, bool, error) {
	log := logger.From(ctx)

	// Otro callback pudo terminar entre el lookup del login y este punto.
	if a, err := s.linkedAccount(ctx, hc.ProviderID, hc.Sub); err != nil || a != nil {
		return a, false, err
	}

	email := hc.UserInfo.String("email")
	existing, err := s.accounts.GetByEmail(ctx, email)
	switch {
	case err == nil:
		verified, known := hc.UserInfo.Bool("email_verified")
		if !s.policy.ConnectExistingUsers || (known && !verified) {
			return nil, false, ErrRegistrationConflict
		}
		if err := s.saveClaims(ctx, existing, hc, false); err != nil {
			return nil, false, err
		}
		if err := s.link(ctx, existing.ID, hc); err != nil {
			if repository.IsConflict(err) {
				return nil, false, ErrLinkRace
			}
			return nil, false, fmt.Errorf("%w: create link: %v", ErrPersistence, err)
		}
		log.Info("identity connected to existing account by e-mail", logger.AccountID(existing.ID))
		return existing, false, nil
	case !repository.IsNotFound(err):
		return nil, false, fmt.Errorf("%w: lookup by e-mail: %v", ErrPersistence, err)
	}

	mode := s.policy.RegistrationMode
	if s.policy.OverrideRegistration {
		mode = config.RegisterVisitors
	}
	if mode == config.RegisterAdminOnly {
		return nil, false, ErrRegistrationClosed
	}
	status := repository.StatusActive
	if mode == config.RegisterVisitorsWithApproval && !s.policy.UnblockAccounts {
		status = repository.StatusBlocked
	}
	return s.createAccount(ctx, hc, status)
}

// createAccount persiste la cuenta y después el vínculo. Si el vínculo
// falla la cuenta se borra: nunca queda un vínculo sin cuenta ni una cuenta
// huérfana de un intento fallido.
func (s *service) createAccount(ctx context.Context, hc *hooks.Context, status repository.AccountStatus) (*repository.Account, bool, error) {
	log := logger.From(ctx)

	email := hc.UserInfo.String("email")
	username, err := s.usernames.Generate(ctx, hc.ProviderID, hc.Sub, email)
	if err != nil {
		return nil, false, fmt.Errorf("%w: username: %v", ErrPersistence, err)
	}

	a := &repository.Account{Username: username, Email: email, Status: status}
	if s.policy.Role != "" {
		a.Roles = []string{s.policy.Role}
	}
	if err := s.applyClaims(ctx, a, hc, true); err != nil {
		return nil, false, err
	}

	if err := s.accounts.Create(ctx, a); err != nil {
		if repository.IsConflict(err) {
			// Otra instancia ganó la carrera; si ya vinculó, usamos su cuenta.
			if winner, lerr := s.linkedAccount(ctx, hc.ProviderID, hc.Sub); lerr == nil && winner != nil {
				return winner, false, nil
			}
			// Sin ganador el choque es de username o email con otra cuenta.
			return nil, false, fmt.Errorf("%w: create account: %v", ErrPersistence, err)
		}
		return nil, false, fmt.Errorf("%w: create account: %v", ErrPersistence, err)
	}

	if err := s.link(ctx, a.ID, hc); err != nil {
		if derr := s.accounts.Delete(ctx, a.ID); derr != nil {
			log.Error("removing orphan account failed", logger.AccountID(a.ID), logger.Err(derr))
		}
		if repository.IsConflict(err) {
			return nil, false, ErrLinkRace
		}
		return nil, false, fmt.Errorf("%w: create link: %v", ErrPersistence, err)
	}

	metrics.AccountsCreated.WithLabelValues(hc.ProviderID).Inc()
	log.Info("account created",
		logger.AccountID(a.ID),
		logger.String("username", a.Username),
		logger.String("status", string(a.Status)),
	)

	if a.Status == repository.StatusBlocked {
		if err := s.notifier.PendingApproval(ctx, a, hc.ProviderID); err != nil {
			log.Warn("notifying administrators failed", logger.Err(err))
		}
	}
	return a, true, nil
}

// applyClaims escribe los claims mapeados en a y corre los hooks de guardado.
// No persiste.
func (s *service) applyClaims(ctx context.Context, a *repository.Account, hc *hooks.Context, isNew bool) error {
	hc.IsNew = isNew
	ignored := s.hooks.IgnoredProperties(s.policy.IgnoredProperties, hc)
	for _, as := range s.mapper.Apply(hc.UserInfo, s.policy.Mappings, claims.MapContext{
		ProviderID: hc.ProviderID,
		IsNew:      isNew,
		Ignored:    ignored,
		Rewrite:    s.hooks.Rewriter(hc),
	}) {
		a.SetProperty(as.Property, as.Value)
	}
	if err := s.hooks.UserInfoSave(ctx, a, hc); err != nil {
		return fmt.Errorf("%w: %v", ErrPersistence, err)
	}
	return nil
}

// saveClaims aplica los claims a una cuenta existente y la persiste.
func (s *service) saveClaims(ctx context.Context, a *repository.Account, hc *hooks.Context, isNew bool) error {
	if err := s.applyClaims(ctx, a, hc, isNew); err != nil {
		return err
	}
	if err := s.accounts.Save(ctx, a); err != nil {
		return fmt.Errorf("%w: save account: %v", ErrPersistence, err)
	}
	return nil
}

func (s *service) link(ctx context.Context, accountID string, hc *hooks.Context) error {
	return s.links.Create(ctx, repository.AccountLink{
		AccountID:  accountID,
		ProviderID: hc.ProviderID,
		Subject:    hc.Sub,
		IdPName:    hc.UserInfo.String("idp_name"),
		CreatedAt:  s.now().UTC(),
	})
}
