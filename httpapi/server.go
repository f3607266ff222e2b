// Copyright 2020 The go-lpc Authors. All rights reserved.
// Use of this source code is governed by a BSD-style
// license that can be found in the LICENSE file.

// Package httpapi exposes an acquisition session over HTTP.
//
// Routes, relative to /api:
//
//	GET  /status               session, buffer, trigger and sampling status
//	GET  /scan                 scan configuration
//	PUT  /scan                 set the scan configuration
//	POST /start                start the scan
//	POST /stop                 stop the scan
//	POST /clear                clear the sample buffer
//	GET  /data?n=N             drain up to N calibrated samples
//	GET  /counter/{kind}/{ch}  read a counter, kind being "di" or "cnt"
//	GET  /error/{code}         message of an error code, in hexadecimal
package httpapi // import "github.com/go-lpc/hsdaq/httpapi"

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-daq/tdaq/log"
	"github.com/go-lpc/hsdaq/daq"
	"github.com/google/uuid"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
)

// MaxSamples is the maximum number of samples drained by one data request.
const MaxSamples = 1 << 16

// Status is the reply of the status route.
type Status struct {
	Device     string             `json:"device"`
	Model      string             `json:"model"`
	Run        uuid.UUID          `json:"run"`
	State      daq.State          `json:"state"`
	StatusWord uint16             `json:"status_word"`
	LastError  string             `json:"last_error"`
	Buffer     daq.BufferStatus   `json:"buffer"`
	Frames     daq.FrameStatus    `json:"frames"`
	Sampling   daq.SamplingStatus `json:"sampling"`
	Trigger    daq.TriggerStatus  `json:"trigger"`
}

// Data is the reply of the data route.
type Data struct {
	First  uint64    `json:"first"` // index of Values[0] since the start of the scan
	Values []float32 `json:"values"`
}

// Error is the body of a failed request.
type Error struct {
	Code uint32 `json:"code"`
	Msg  string `json:"error"`
}

// ErrorMessage is the reply of the error route.
type ErrorMessage struct {
	Code uint32 `json:"code"`
	Msg  string `json:"message"`
}

// Server serves one acquisition session.
type Server struct {
	sess *daq.Session
	msg  log.MsgStream
	mux  *mux.Router
	hdl  http.Handler
}

// NewServer returns a server for the session; requests are logged to w.
func NewServer(sess *daq.Session, msg log.MsgStream, w io.Writer) *Server {
	srv := &Server{
		sess: sess,
		msg:  msg,
		mux:  mux.NewRouter(),
	}

	api := srv.mux.PathPrefix("/api").Subrouter()
	api.HandleFunc("/status", srv.handleStatus).Methods(http.MethodGet)
	api.HandleFunc("/scan", srv.handleScanGet).Methods(http.MethodGet)
	api.HandleFunc("/scan", srv.handleScanSet).Methods(http.MethodPut)
	api.HandleFunc("/start", srv.handleStart).Methods(http.MethodPost)
	api.HandleFunc("/stop", srv.handleStop).Methods(http.MethodPost)
	api.HandleFunc("/clear", srv.handleClear).Methods(http.MethodPost)
	api.HandleFunc("/data", srv.handleData).Methods(http.MethodGet)
	api.HandleFunc("/counter/{kind:di|cnt}/{ch:[0-9]+}", srv.handleCounter).Methods(http.MethodGet)
	api.HandleFunc("/error/{code:(?:0x)?[0-9a-fA-F]+}", srv.handleError).Methods(http.MethodGet)

	srv.hdl = handlers.RecoveryHandler()(srv.mux)
	if w != nil {
		srv.hdl = handlers.LoggingHandler(w, srv.hdl)
	}
	return srv
}

// ServeHTTP implements http.Handler.
func (srv *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	srv.hdl.ServeHTTP(w, r)
}

func (srv *Server) reply(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	err := json.NewEncoder(w).Encode(v)
	if err != nil {
		srv.msg.Errorf("could not encode reply: %+v", err)
	}
}

func (srv *Server) fail(w http.ResponseWriter, err error) {
	code := daq.CodeOf(err)
	status := http.StatusInternalServerError
	switch code.Kind() {
	case daq.KindInvalidParameter:
		status = http.StatusBadRequest
	case daq.KindBusy:
		status = http.StatusConflict
	case daq.KindUnsupported:
		status = http.StatusNotImplemented
	case daq.KindDeviceTimeout:
		status = http.StatusGatewayTimeout
	case daq.KindDeviceResponse:
		status = http.StatusBadGateway
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(Error{Code: uint32(code), Msg: err.Error()})
}

func (srv *Server) handleStatus(w http.ResponseWriter, r *http.Request) {
	sess := srv.sess
	srv.reply(w, Status{
		Device:     sess.Name(),
		Model:      sess.Model().Name,
		Run:        sess.RunID(),
		State:      sess.State(),
		StatusWord: sess.StatusWord(),
		LastError:  sess.LastError().String(),
		Buffer:     sess.BufferStatus(),
		Frames:     sess.FrameStatus(),
		Sampling:   sess.SamplingStatus(),
		Trigger:    sess.TriggerStatus(),
	})
}

func (srv *Server) handleScanGet(w http.ResponseWriter, r *http.Request) {
	sc, err := srv.sess.ScanConfig()
	if err != nil {
		srv.fail(w, err)
		return
	}
	srv.reply(w, sc)
}

func (srv *Server) handleScanSet(w http.ResponseWriter, r *http.Request) {
	var sc daq.ScanConfig
	err := json.NewDecoder(r.Body).Decode(&sc)
	if err != nil {
		srv.fail(w, &daq.Error{Op: "decode", Code: daq.ErrInvalidParameter, Err: err})
		return
	}
	err = srv.sess.SetScanConfig(sc)
	if err != nil {
		srv.fail(w, err)
		return
	}
	srv.reply(w, sc)
}

func (srv *Server) handleStart(w http.ResponseWriter, r *http.Request) {
	err := srv.sess.Start()
	if err != nil {
		srv.fail(w, err)
		return
	}
	srv.msg.Infof("scan started (run=%v)", srv.sess.RunID())
	srv.handleStatus(w, r)
}

func (srv *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	err := srv.sess.Stop()
	if err != nil {
		srv.fail(w, err)
		return
	}
	srv.msg.Infof("scan stopped (run=%v)", srv.sess.RunID())
	srv.handleStatus(w, r)
}

func (srv *Server) handleClear(w http.ResponseWriter, r *http.Request) {
	err := srv.sess.ClearBuffer()
	if err != nil {
		srv.fail(w, err)
		return
	}
	srv.handleStatus(w, r)
}

func (srv *Server) handleData(w http.ResponseWriter, r *http.Request) {
	n := 1024
	if v := r.URL.Query().Get("n"); v != "" {
		var err error
		n, err = strconv.Atoi(v)
		if err != nil || n < 0 || n > MaxSamples {
			srv.fail(w, &daq.Error{
				Op:   "data",
				Code: daq.ErrInvalidParameter,
				Err:  fmt.Errorf("invalid number of samples %q", v),
			})
			return
		}
	}
	if sc, err := srv.sess.ScanConfig(); err == nil {
		// keep drains aligned on whole scans.
		n -= n % sc.ChannelCount
	}

	vs := make([]float32, n)
	n, first, err := srv.sess.ReadBufferSeq(vs)
	if err != nil {
		srv.fail(w, err)
		return
	}
	srv.reply(w, Data{First: first, Values: vs[:n]})
}

func (srv *Server) handleCounter(w http.ResponseWriter, r *http.Request) {
	vars := mux.Vars(r)
	kind := daq.DICounter
	if vars["kind"] == "cnt" {
		kind = daq.Counter
	}
	ch, err := strconv.Atoi(vars["ch"])
	if err != nil {
		srv.fail(w, &daq.Error{Op: "counter", Code: daq.ErrIOChannel, Err: err})
		return
	}
	st, err := srv.sess.ReadCounter(kind, ch)
	if err != nil {
		srv.fail(w, err)
		return
	}
	srv.reply(w, st)
}

func (srv *Server) handleError(w http.ResponseWriter, r *http.Request) {
	hex := strings.TrimPrefix(strings.ToLower(mux.Vars(r)["code"]), "0x")
	v, err := strconv.ParseUint(hex, 16, 32)
	if err != nil {
		var nerr *strconv.NumError
		if errors.As(err, &nerr) {
			err = nerr.Err
		}
		srv.fail(w, &daq.Error{Op: "error", Code: daq.ErrInvalidParameter, Err: err})
		return
	}
	code := daq.Code(v)
	srv.reply(w, ErrorMessage{Code: uint32(code), Msg: daq.ErrorMessage(code)})
}
