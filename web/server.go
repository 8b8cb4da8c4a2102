// Package web has a web based dashboard for monitoring and controlling
// network training.
package web

import (
	"encoding/json"
	"fmt"
	"html/template"
	"log"
	"math/rand"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/mux"
	"github.com/gorilla/websocket"

	"github.com/ishan-modi/TensorRT-Model-Optimizer/nnet"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
}

// Server drives training for one model and serves the dashboard.
type Server struct {
	Model   string
	Conf    nnet.Config
	net     *nnet.Network
	data    map[string]nnet.Data
	stats   []nnet.Stats
	conn    *websocket.Conn
	running bool
	stop    bool
	sync.Mutex
}

// NewServer creates the dashboard server for the given model config and
// data partitions.
func NewServer(model string, conf nnet.Config, data map[string]nnet.Data) *Server {
	return &Server{Model: model, Conf: conf, data: data}
}

// Router returns the route handlers. If user is set all routes are behind
// basic auth with a session cookie.
func (s *Server) Router(user, pass string) *mux.Router {
	r := mux.NewRouter()
	if user != "" {
		mw := newAuthMiddleware(user, pass)
		r.Use(mw.wrap)
	}
	r.HandleFunc("/", s.index)
	r.HandleFunc("/config", s.configPage)
	r.HandleFunc("/config/save", s.configSave)
	r.HandleFunc("/train/{cmd:start|stop}", s.train)
	r.HandleFunc("/stats", s.statsJSON)
	r.HandleFunc("/ws", s.websocket)
	r.HandleFunc("/plot/{name:loss|accuracy}.svg", s.plotHandler)
	return r
}

// Stats returns a copy of the run history.
func (s *Server) Stats() []nnet.Stats {
	s.Lock()
	defer s.Unlock()
	return append([]nnet.Stats{}, s.stats...)
}

func (s *Server) index(w http.ResponseWriter, r *http.Request) {
	s.Lock()
	defer s.Unlock()
	err := indexTmpl.Execute(w, struct {
		Model   string
		Running bool
		Stats   []nnet.Stats
	}{s.Model, s.running, s.stats})
	if err != nil {
		logError(w, err)
	}
}

func (s *Server) train(w http.ResponseWriter, r *http.Request) {
	cmd := mux.Vars(r)["cmd"]
	s.Lock()
	defer s.Unlock()
	switch cmd {
	case "start":
		if s.running {
			log.Println("skip start - already running")
		} else {
			s.startTraining()
		}
	case "stop":
		s.stop = true
	}
	http.Redirect(w, r, "/", http.StatusFound)
}

// startTraining launches the run in the background, caller holds the lock.
func (s *Server) startTraining() {
	s.running = true
	s.stop = false
	s.stats = s.stats[:0]
	go func() {
		err := s.run()
		s.Lock()
		s.running = false
		s.Unlock()
		if err != nil {
			log.Println("training error:", err)
		}
	}()
}

func (s *Server) run() error {
	s.Lock()
	conf := s.Conf
	s.Unlock()
	src, ok := s.data["train"]
	if !ok {
		return fmt.Errorf("no train partition for %s: generate the dataset first", s.Model)
	}
	rng := rand.New(rand.NewSource(conf.RandSeed))
	train, valid := nnet.Split(src, conf.ValidSplit, rng)
	trainData := nnet.NewDataset(train, conf.TrainBatch, conf.MaxSamples, rng)
	validData := nnet.NewDataset(valid, conf.TestBatch, conf.MaxSamples, rng)
	var testData *nnet.Dataset
	if d, haveTest := s.data["test"]; haveTest {
		testData = nnet.NewDataset(d, conf.TestBatch, conf.MaxSamples, rng)
	}
	net := nnet.New(conf, trainData.BatchSize, src.Shape())
	net.InitWeights(rng)
	s.Lock()
	s.net = net
	s.Unlock()
	tester := nnet.NewTestBase(validData, testData, conf.CheckpointPath(s.Model))
	sched := conf.Schedule(trainData.Batches)
	return nnet.Train(net, sched, trainData, &serverTester{TestBase: tester, srv: s})
}

// serverTester records the stats and pushes each epoch over the websocket.
type serverTester struct {
	*nnet.TestBase
	srv *Server
}

func (t *serverTester) Test(net *nnet.Network, epoch int, loss float64, start time.Time) bool {
	done := t.TestBase.Test(net, epoch, loss, start)
	st := t.TestBase.Stats[len(t.TestBase.Stats)-1]
	t.srv.Lock()
	t.srv.stats = append(t.srv.stats, st)
	stop := t.srv.stop
	conn := t.srv.conn
	t.srv.Unlock()
	if conn != nil {
		msg, _ := json.Marshal(st)
		if err := conn.WriteMessage(websocket.TextMessage, msg); err != nil {
			log.Println("error writing to websocket", err)
		}
	}
	return done || stop
}

func (s *Server) statsJSON(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(s.Stats()); err != nil {
		logError(w, err)
	}
}

func (s *Server) websocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("websocket upgrade error:", err)
		return
	}
	s.Lock()
	if s.conn != nil {
		s.conn.Close()
	}
	s.conn = conn
	s.Unlock()
}

func logError(w http.ResponseWriter, err error) {
	log.Println("error:", err)
	http.Error(w, err.Error(), http.StatusInternalServerError)
}

var indexTmpl = template.Must(template.New("index").Parse(`<!doctype html>
<html><head><title>{{.Model}} training</title></head>
<body>
<h2>{{.Model}}</h2>
<p>
<a href="/train/start">start</a> | <a href="/train/stop">stop</a>
{{if .Running}} (running){{end}}
</p>
<p><img src="/plot/loss.svg"> <img src="/plot/accuracy.svg"></p>
<table border="1" cellpadding="4">
<tr><th>epoch</th><th>loss</th><th>valid</th><th>test</th></tr>
{{range .Stats}}<tr><td>{{.Epoch}}</td><td>{{printf "%.4f" .Loss}}</td>
<td>{{printf "%.2f%%" .ValidAcc}}</td><td>{{printf "%.2f%%" .TestAcc}}</td></tr>
{{end}}
</table>
<script>
var ws = new WebSocket("ws://" + location.host + "/ws");
ws.onmessage = function() { location.reload(); };
</script>
</body></html>
`))
