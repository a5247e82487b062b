package rest

import (
	"bytes"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"image"
	"net/http"
	"strconv"
	"strings"

	"github.com/abcfe/abcfe-wallet/keyring"
	"github.com/abcfe/abcfe-wallet/scanner"
	"github.com/abcfe/abcfe-wallet/signer"
	"github.com/gorilla/mux"
	qrcode "github.com/skip2/go-qrcode"
)

// qrImageSize is the edge length of rendered sign request parts
const qrImageSize = 512

// get sign request QR part as PNG
func GetSignRequestQR(queue *signer.Queue) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		vars := mux.Vars(r)
		req, ok := queue.Get(vars["id"])
		if !ok {
			sendResp(w, http.StatusNotFound, nil, signer.ErrRequestNotFound)
			return
		}
		idx, err := strconv.Atoi(vars["part"])
		if err != nil || idx < 0 || idx >= len(req.Parts) {
			sendResp(w, http.StatusBadRequest, nil, fmt.Errorf("part must be between 0 and %d", len(req.Parts)-1))
			return
		}

		// uppercase text lets the QR use the denser alphanumeric mode
		png, err := qrcode.Encode(strings.ToUpper(req.Parts[idx]), qrcode.Medium, qrImageSize)
		if err != nil {
			sendResp(w, http.StatusInternalServerError, nil, err)
			return
		}
		w.Header().Set("Content-Type", "image/png")
		w.Header().Set("X-UR-Parts", strconv.Itoa(len(req.Parts)))
		w.WriteHeader(http.StatusOK)
		w.Write(png)
	}
}

// open QR reader session response
func OpenSession(scanners *scanner.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req OpenSessionReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendResp(w, http.StatusBadRequest, nil, err)
			return
		}
		s, err := scanners.Open(req.Purpose, req.RequestID)
		if err != nil {
			sendResp(w, statusFor(err), nil, err)
			return
		}
		sendResp(w, http.StatusCreated, formatSessionResp(s), nil)
	}
}

// get QR reader session response
func GetSession(scanners *scanner.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := scanners.Get(mux.Vars(r)["id"])
		if err != nil {
			sendResp(w, statusFor(err), nil, err)
			return
		}
		sendResp(w, http.StatusOK, formatSessionResp(s), nil)
	}
}

// close QR reader session response
func CloseSession(scanners *scanner.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		id := mux.Vars(r)["id"]
		if err := scanners.Close(id); err != nil {
			sendResp(w, statusFor(err), nil, err)
			return
		}
		sendResp(w, http.StatusOK, map[string]string{"id": id}, nil)
	}
}

// scan response. Accepts a decoded fragment or a camera frame.
func ScanSession(scanners *scanner.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := scanners.Get(mux.Vars(r)["id"])
		if err != nil {
			sendResp(w, statusFor(err), nil, err)
			return
		}
		var req ScanReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendResp(w, http.StatusBadRequest, nil, err)
			return
		}

		switch {
		case req.Data != "":
			s.Reader.HandleScan(req.Data)
		case req.Frame != "":
			img, err := decodeFrame(req.Frame)
			if err != nil {
				sendResp(w, http.StatusBadRequest, nil, err)
				return
			}
			if s.Frames == nil || !s.Frames.Push(img) {
				sendResp(w, http.StatusServiceUnavailable, nil, fmt.Errorf("frame queue is full"))
				return
			}
		default:
			sendResp(w, http.StatusBadRequest, nil, fmt.Errorf("data or frame is required"))
			return
		}
		sendResp(w, http.StatusOK, formatSessionResp(s), nil)
	}
}

// paste response
func PasteSession(scanners *scanner.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := scanners.Get(mux.Vars(r)["id"])
		if err != nil {
			sendResp(w, statusFor(err), nil, err)
			return
		}
		var req PasteReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendResp(w, http.StatusBadRequest, nil, err)
			return
		}
		s.Reader.Paste(req.Data)
		sendResp(w, http.StatusOK, formatSessionResp(s), nil)
	}
}

// try again response
func RetrySession(scanners *scanner.Manager) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		s, err := scanners.Get(mux.Vars(r)["id"])
		if err != nil {
			sendResp(w, statusFor(err), nil, err)
			return
		}
		s.Reader.TryAgain()
		sendResp(w, http.StatusOK, formatSessionResp(s), nil)
	}
}

// import hardware wallet UR response
func ImportUR(ctrl *keyring.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req ImportURReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendResp(w, http.StatusBadRequest, nil, err)
			return
		}
		typ, err := scanner.SubmitWalletUR(r.Context(), ctrl, req.UR)
		if err != nil {
			sendResp(w, statusFor(err), nil, err)
			return
		}
		sendResp(w, http.StatusOK, ImportURResp{Type: typ, Accounts: addressStrings(ctrl.Accounts())}, nil)
	}
}

// add hardware wallet accounts response
func AddQRAccounts(ctrl *keyring.Controller) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req AddQRAccountsReq
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			sendResp(w, http.StatusBadRequest, nil, err)
			return
		}
		if req.Count <= 0 {
			req.Count = 1
		}
		added, err := ctrl.AddQRHardwareAccounts(r.Context(), req.Count)
		if err != nil {
			sendResp(w, statusFor(err), nil, err)
			return
		}
		sendResp(w, http.StatusOK, addressStrings(added), nil)
	}
}

func formatSessionResp(s *scanner.Session) SessionResp {
	return SessionResp{
		ID:        s.ID,
		Purpose:   s.Purpose,
		RequestID: s.RequestID,
		State:     s.Reader.Snapshot(),
	}
}

// Helper function to decode a base64 PNG or JPEG frame, with or without a data URL prefix
func decodeFrame(frame string) (image.Image, error) {
	if i := strings.Index(frame, ","); strings.HasPrefix(frame, "data:") && i >= 0 {
		frame = frame[i+1:]
	}
	raw, err := base64.StdEncoding.DecodeString(frame)
	if err != nil {
		return nil, fmt.Errorf("invalid frame encoding: %w", err)
	}
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("invalid frame image: %w", err)
	}
	return img, nil
}
