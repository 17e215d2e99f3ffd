// Package authflow runs the authorization-code login: it builds the redirect
// to the IdP, validates the callback, exchanges the code, resolves or creates
// the local account, applies the mapped claims and closes the login session.
//
// The flow spans two independent requests. Everything the callback needs
// (operation, destination, account to connect) lives in the browser session;
// none of it is read from the query string.
package authflow

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/singleflight"

	"github.com/dropDatabas3/cilogonauth/internal/claims"
	"github.com/dropDatabas3/cilogonauth/internal/domain/repository"
	"github.com/dropDatabas3/cilogonauth/internal/hooks"
	"github.com/dropDatabas3/cilogonauth/internal/metrics"
	"github.com/dropDatabas3/cilogonauth/internal/notify"
	"github.com/dropDatabas3/cilogonauth/internal/oauth"
	"github.com/dropDatabas3/cilogonauth/internal/observability/logger"
	"github.com/dropDatabas3/cilogonauth/internal/session"
)

// DefaultFlowTTL es lo que vive una AuthorizationSession sin callback.
const DefaultFlowTTL = 15 * time.Minute

// Service es el AuthorizationOrchestrator.
type Service interface {
	// BeginLogin descarta cualquier flujo previo de la sesión, guarda uno
	// nuevo y retorna el redirect al IdP.
	BeginLogin(ctx context.Context, sess *session.Session, req BeginRequest) (*oauth.RedirectInstruction, error)

	// CompleteCallback procesa el regreso del IdP. Con ErrCSRF y
	// ErrOutOfFlow el resultado es nil; en cualquier otro caso trae el
	// destino al que hay que redirigir, también cuando err != nil.
	CompleteCallback(ctx context.Context, sess *session.Session, req CallbackRequest) (*CallbackResult, error)
}

type BeginRequest struct {
	ProviderID  string
	Operation   session.Operation
	Destination session.Destination
	// ConnectAccountID solo aplica a OperationConnect.
	ConnectAccountID string
}

type CallbackRequest struct {
	ProviderID string
	Query      url.Values
}

type CallbackResult struct {
	Redirect  string
	AccountID string
	Created   bool
	// Messages son los mensajes agregados a la sesión durante este callback.
	Messages []session.Message
}

// Deps contiene las dependencias del orquestador.
type Deps struct {
	Providers *oauth.Registry
	Catalog   *claims.Catalog
	Mapper    *claims.Mapper  // nil = claims.NewMapper(Catalog)
	Hooks     *hooks.Registry // nil = sin hooks
	Accounts  repository.AccountRepository
	Links     repository.LinkRepository
	Policy    Policy
	Notifier  notify.Notifier  // nil = notify.Nop
	FlowTTL   time.Duration    // 0 = DefaultFlowTTL
	Now       func() time.Time // nil = time.Now
}

type service struct {
	providers *oauth.Registry
	catalog   *claims.Catalog
	mapper    *claims.Mapper
	hooks     *hooks.Registry
	accounts  repository.AccountRepository
	links     repository.LinkRepository
	policy    Policy
	notifier  notify.Notifier
	flowTTL   time.Duration
	now       func() time.Time

	usernames UsernameGenerator
	validate  *validator.Validate
	// creating colapsa primeros logins concurrentes del mismo (provider, sub).
	creating singleflight.Group
}

// NewService crea el orquestador.
func NewService(d Deps) Service {
	s := &service{
		providers: d.Providers,
		catalog:   d.Catalog,
		mapper:    d.Mapper,
		hooks:     d.Hooks,
		accounts:  d.Accounts,
		links:     d.Links,
		policy:    d.Policy,
		notifier:  d.Notifier,
		flowTTL:   d.FlowTTL,
		now:       d.Now,
		validate:  validator.New(),
	}
	if s.catalog == nil {
		s.catalog = claims.NewCatalog()
	}
	if s.mapper == nil {
		s.mapper = claims.NewMapper(s.catalog)
	}
	if s.notifier == nil {
		s.notifier = notify.Nop{}
	}
	if s.flowTTL <= 0 {
		s.flowTTL = DefaultFlowTTL
	}
	if s.now == nil {
		s.now = time.Now
	}
	s.usernames = UsernameGenerator{
		Accounts:     d.Accounts,
		Scheme:       d.Policy.UsernameScheme,
		CustomPrefix: d.Policy.CustomPrefix,
	}
	return s
}

func (s *service) BeginLogin(ctx context.Context, sess *session.Session, req BeginRequest) (*oauth.RedirectInstruction, error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("authflow"),
		logger.Op("BeginLogin"),
		logger.Provider(req.ProviderID),
	)

	client, ok := s.providers.Get(req.ProviderID)
	if !ok {
		return nil, ErrUnknownProvider
	}

	op := req.Operation
	if op == "" {
		op = session.OperationLogin
	}
	switch op {
	case session.OperationLogin:
		req.ConnectAccountID = ""
	case session.OperationConnect:
		if sess.AccountID == "" || req.ConnectAccountID != sess.AccountID {
			log.Warn("connect requested for another account")
			return nil, ErrConnectMismatch
		}
	default:
		return nil, fmt.Errorf("authflow: unknown operation %q", op)
	}

	sess.StartAuthorization(session.AuthorizationSession{
		ProviderID:       client.ID(),
		Operation:        op,
		Destination:      req.Destination,
		ConnectAccountID: req.ConnectAccountID,
		CreatedAt:        s.now(),
	})

	instr, err := client.Authorize(s.catalog.RequiredScopes(s.policy.Mappings), sess)
	if err != nil {
		sess.Authorization = nil
		sess.ClearState()
		log.Error("authorize failed", logger.Err(err))
		return nil, err
	}

	log.Debug("redirecting to provider", logger.Operation(string(op)))
	return instr, nil
}

func (s *service) CompleteCallback(ctx context.Context, sess *session.Session, req CallbackRequest) (res *CallbackResult, err error) {
	log := logger.From(ctx).With(
		logger.Layer("service"),
		logger.Component("authflow"),
		logger.Op("CompleteCallback"),
		logger.Provider(req.ProviderID),
	)

	label, outcome := "unknown", ""
	defer func() {
		if outcome == "" {
			outcome = Outcome(err)
		}
		metrics.CallbackOutcomes.WithLabelValues(label, outcome).Inc()
	}()

	// 1. CSRF: antes de mirar cualquier otra cosa del request o la sesión.
	q := req.Query
	state := q.Get("state")
	if state == "" || !sess.ConfirmState(state) {
		log.Warn("callback rejected: state missing or invalid")
		return nil, ErrCSRF
	}
	sess.ClearState()

	// 2. El flujo se consume acá, pase lo que pase después.
	flow, ok := sess.TakeAuthorization(s.now(), s.flowTTL)
	if !ok || flow.ProviderID != req.ProviderID {
		log.Info("callback without a matching authorization flow")
		return nil, ErrOutOfFlow
	}
	client, ok := s.providers.Get(req.ProviderID)
	if !ok {
		return nil, ErrOutOfFlow
	}
	label = client.ID()
	log = log.With(logger.Operation(string(flow.Operation)))
	res = &CallbackResult{Redirect: flow.Destination.String()}

	// 3. Error reportado por el IdP.
	if code := q.Get("error"); code != "" {
		if cancelCodes[code] {
			log.Info("login cancelled at provider", logger.String("error", code))
			s.flash(sess, res, session.LevelStatus, fmt.Sprintf("Logging in with %s has been canceled.", client.Label()))
			return res, ErrUserCancelled
		}
		desc := q.Get("error_description")
		log.Error("provider returned an error",
			logger.String("error", code),
			logger.String("error_description", desc),
		)
		s.flash(sess, res, session.LevelError, failureMessage(client))
		return res, &ProviderError{Provider: client.ID(), Code: code, Description: desc}
	}

	code := q.Get("code")
	if code == "" {
		log.Info("callback without code")
		return nil, ErrOutOfFlow
	}

	if flow.Operation == session.OperationConnect &&
		(flow.ConnectAccountID == "" || flow.ConnectAccountID != sess.AccountID) {
		log.Warn("connect flow does not belong to the current account")
		s.flash(sess, res, session.LevelError, "You cannot connect another user's account.")
		return res, ErrConnectMismatch
	}

	// 4. Code exchange.
	tokens, err := client.ExchangeCode(ctx, code)
	if err != nil {
		log.Error("code exchange failed", logger.Err(err))
		s.flash(sess, res, session.LevelError, failureMessage(client))
		return res, err
	}

	// 5. Claims: id_token + userinfo (userinfo gana en colisiones).
	idClaims, info, sub, err := s.retrieveUserInfo(ctx, client, tokens)
	if err != nil {
		log.Error("retrieving user info failed", logger.Err(err))
		s.flash(sess, res, session.LevelError, failureMessage(client))
		return res, err
	}
	log = log.With(logger.Sub(sub))
	ctx = logger.ToContext(ctx, log)

	hc := &hooks.Context{
		ProviderID: client.ID(),
		Sub:        sub,
		Tokens:     tokens,
		UserData:   idClaims,
		UserInfo:   info,
	}
	s.hooks.AlterUserInfo(info, hc)

	email := info.String("email")
	if email == "" {
		log.Warn("no e-mail in user info")
		s.flash(sess, res, session.LevelError, fmt.Sprintf("No e-mail address provided by %s.", client.Label()))
		return res, ErrEmailMissing
	}
	if verr := s.validate.Var(email, "email"); verr != nil {
		log.Warn("invalid e-mail in user info", logger.Email(email))
		s.flash(sess, res, session.LevelError, fmt.Sprintf("The e-mail address is not valid: %s", email))
		return res, ErrEmailInvalid
	}

	// 6-10.
	if flow.Operation == session.OperationConnect {
		err = s.connect(ctx, sess, res, client, flow.ConnectAccountID, hc)
		if err == nil {
			outcome = "connect"
		}
		return res, err
	}
	err = s.login(ctx, sess, res, client, hc)
	if err == nil {
		outcome = "login"
	}
	return res, err
}

// retrieveUserInfo decodifica el id_token, pide userinfo y mergea ambos.
func (s *service) retrieveUserInfo(ctx context.Context, client oauth.Client, tokens *oauth.TokenSet) (idClaims, merged oauth.UserInfo, sub string, err error) {
	idClaims = oauth.UserInfo{}
	if tokens.IDToken != "" {
		if idClaims, err = client.DecodeIdentityToken(tokens.IDToken); err != nil {
			return nil, nil, "", err
		}
	}

	var info oauth.UserInfo
	if tokens.AccessToken != "" {
		if info, err = client.FetchUserInfo(ctx, tokens.AccessToken); err != nil {
			return nil, nil, "", err
		}
	}

	sub = idClaims.String("sub")
	infoSub := info.String("sub")
	if sub == "" {
		sub = infoSub
	}
	if sub == "" {
		return nil, nil, "", &oauth.DecodeError{Provider: client.ID(), Err: errors.New("no sub claim")}
	}
	if infoSub != "" && infoSub != sub {
		return nil, nil, "", &oauth.FetchError{Provider: client.ID(), Err: errors.New("userinfo sub does not match the identity token")}
	}
	return idClaims, idClaims.Merge(info), sub, nil
}

func (s *service) flash(sess *session.Session, res *CallbackResult, level, text string) {
	sess.AddMessage(level, text)
	res.Messages = append(res.Messages, session.Message{Level: level, Text: text})
}

func failureMessage(c oauth.Client) string {
	return fmt.Sprintf("Logging in with %s could not be completed due to an error.", c.Label())
}
