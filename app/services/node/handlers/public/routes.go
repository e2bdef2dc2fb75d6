package public

import (
	"net/http"

	"github.com/ardanlabs/powledger/business/web/mid"
	"github.com/ardanlabs/powledger/foundation/blockchain/state"
	"github.com/ardanlabs/powledger/foundation/events"
	"github.com/ardanlabs/powledger/foundation/nameservice"
	"github.com/ardanlabs/powledger/foundation/web"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

// Config contains all the mandatory systems required by handlers.
type Config struct {
	Log   *zap.SugaredLogger
	State *state.State
	NS    *nameservice.NameService
	Evts  *events.Events
	Cors  string
}

// Routes binds all the public routes.
func Routes(app *web.App, cfg Config) {
	pbl := Handlers{
		Log:   cfg.Log,
		State: cfg.State,
		NS:    cfg.NS,
		WS:    websocket.Upgrader{},
		Evts:  cfg.Evts,
	}

	const version = "v1"
	cors := mid.Cors(cfg.Cors)

	app.Handle(http.MethodGet, version, "/events", pbl.Events)
	app.Handle(http.MethodGet, version, "/blockchain", pbl.Blockchain, cors)
	app.Handle(http.MethodGet, version, "/blockchain/settings", pbl.Settings, cors)
	app.Handle(http.MethodPost, version, "/blockchain/settings", pbl.UpdateSettings, cors)
	app.Handle(http.MethodGet, version, "/wallet/:address/balance", pbl.Balance, cors)
	app.Handle(http.MethodGet, version, "/wallet/:address/transactions", pbl.WalletTransactions, cors)
	app.Handle(http.MethodGet, version, "/wallet/:address/transactions/latest", pbl.LatestTransaction, cors)
	app.Handle(http.MethodPost, version, "/mine", pbl.Mine, cors)
	app.Handle(http.MethodPost, version, "/transaction", pbl.SubmitTransaction, cors)
	app.Handle(http.MethodGet, version, "/transaction/:hash", pbl.Transaction, cors)
	app.Handle(http.MethodGet, version, "/transaction/:hash/validate", pbl.ValidateTransaction, cors)
	app.Handle(http.MethodGet, version, "/transaction/:hash/verify/:block", pbl.VerifyTransaction, cors)
	app.Handle(http.MethodGet, version, "/transactions/pending", pbl.Pending, cors)
}
