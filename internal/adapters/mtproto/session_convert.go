package mtproto

import (
	"bytes"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"

	"github.com/gotd/td/crypto"
	"github.com/gotd/td/session"
	"github.com/gotd/td/tg"
)

// ErrUnsupportedSessionFormat формат сессии не распознан.
var ErrUnsupportedSessionFormat = errors.New("неизвестный формат MTProto сессии")

// gotdEnvelope формат, в котором session.Storage gotd хранит данные.
type gotdEnvelope struct {
	Version int          `json:"Version"`
	Data    session.Data `json:"Data"`
}

// telethonRow строка экспорта SQLite-сессии Telethon в JSON.
type telethonRow struct {
	DCID          int    `json:"dc_id"`
	ServerAddress string `json:"server_address"`
	Port          int    `json:"port"`
	AuthKey       string `json:"auth_key"`
}

// NormalizeSessionBytes приводит сессию к JSON gotd. Поддерживаются: JSON gotd, строка Telethon,
// JSON аккаунта с полем extra_params и JSON-выгрузка таблицы sessions Telethon.
// Второе значение сообщает, потребовалась ли конвертация.
func NormalizeSessionBytes(raw []byte) ([]byte, bool, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 {
		return nil, false, fmt.Errorf("%w: пустые данные", ErrUnsupportedSessionFormat)
	}
	var envelope struct {
		Version int `json:"Version"`
	}
	if json.Unmarshal(trimmed, &envelope) == nil && envelope.Version != 0 {
		return append([]byte(nil), trimmed...), false, nil
	}
	converters := []func([]byte) ([]byte, error){fromAccountJSON, fromSessionRows, fromTelethonString}
	for _, convert := range converters {
		if out, err := convert(trimmed); err == nil {
			return out, true, nil
		}
	}
	return nil, false, ErrUnsupportedSessionFormat
}

func fromAccountJSON(raw []byte) ([]byte, error) {
	var account struct {
		ExtraParams string `json:"extra_params"`
	}
	if err := json.Unmarshal(raw, &account); err != nil {
		return nil, err
	}
	if account.ExtraParams == "" {
		return nil, errors.New("нет extra_params")
	}
	return fromTelethonString([]byte(account.ExtraParams))
}

func fromSessionRows(raw []byte) ([]byte, error) {
	var rows []telethonRow
	if err := json.Unmarshal(raw, &rows); err != nil {
		return nil, err
	}
	for _, row := range rows {
		if row.AuthKey != "" && row.ServerAddress != "" && row.Port != 0 {
			return fromAuthKey(row)
		}
	}
	return nil, errors.New("нет строк с ключом авторизации")
}

func fromTelethonString(raw []byte) ([]byte, error) {
	encoded := strings.Trim(strings.TrimSpace(string(raw)), "\"'\n\r\t")
	if encoded == "" {
		return nil, errors.New("пустая строка сессии")
	}
	data, err := session.TelethonSession(encoded)
	if err != nil {
		return nil, err
	}
	if data.Config.ThisDC == 0 {
		data.Config.ThisDC = data.DC
	}
	if data.Addr != "" && len(data.Config.DCOptions) == 0 {
		if host, port, err := splitAddr(data.Addr); err == nil {
			data.Config.DCOptions = []tg.DCOption{{ID: data.DC, IPAddress: host, Port: port}}
		}
	}
	return json.Marshal(gotdEnvelope{Version: 1, Data: *data})
}

func fromAuthKey(row telethonRow) ([]byte, error) {
	keyHex := strings.Trim(strings.TrimSpace(row.AuthKey), "'\"")
	rawKey, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("auth_key: %w", err)
	}
	var key crypto.Key
	if len(rawKey) != len(key) {
		return nil, fmt.Errorf("auth_key: длина %d байт", len(rawKey))
	}
	copy(key[:], rawKey)
	id := key.WithID().ID

	data := session.Data{
		Config: session.Config{
			ThisDC:    row.DCID,
			DCOptions: []tg.DCOption{{ID: row.DCID, IPAddress: row.ServerAddress, Port: row.Port}},
		},
		DC:        row.DCID,
		Addr:      net.JoinHostPort(row.ServerAddress, strconv.Itoa(row.Port)),
		AuthKey:   append([]byte(nil), key[:]...),
		AuthKeyID: append([]byte(nil), id[:]...),
	}
	return json.Marshal(gotdEnvelope{Version: 1, Data: data})
}

func splitAddr(addr string) (string, int, error) {
	host, portStr, err := net.SplitHostPort(addr)
	if err != nil {
		return "", 0, err
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return "", 0, err
	}
	return host, port, nil
}
