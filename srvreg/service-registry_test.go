package srvreg

import (
	"errors"
	"sort"
	"testing"
	"time"

	cmtlog "github.com/cometbft/cometbft/libs/log"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahmadzakiakmal/estatechain/errs"
	"github.com/ahmadzakiakmal/estatechain/state"
)

func TestMatchPath(t *testing.T) {
	cases := []struct {
		pattern, path string
		params        map[string]string
		ok            bool
	}{
		{"/property/:id", "/property/12", map[string]string{"id": "12"}, true},
		{"/auction/:id/pending/:bidder", "/auction/3/pending/ABCD", map[string]string{"id": "3", "bidder": "ABCD"}, true},
		{"/property/:id", "/property/", nil, false},
		{"/property/:id", "/property/1/history", nil, false},
		{"/lease/:id", "/auction/1", nil, false},
	}
	for _, tc := range cases {
		params, ok := matchPath(tc.pattern, tc.path)
		assert.Equal(t, tc.ok, ok, "%s ~ %s", tc.pattern, tc.path)
		if tc.ok {
			assert.Equal(t, tc.params, params)
		}
	}
}

func TestServe(t *testing.T) {
	sr := NewServiceRegistry(cmtlog.NewNopLogger())
	sr.RegisterHandler("/property/count", true, func(*Request) (any, error) {
		return map[string]int{"count": 2}, nil
	})
	sr.RegisterHandler("/property/:id", false, func(req *Request) (any, error) {
		id, err := req.IDParam("id")
		if err != nil {
			return nil, err
		}
		return map[string]any{"id": id, "now": req.Now()}, nil
	})
	sr.RegisterHandler("/account/:address", false, func(req *Request) (any, error) {
		addr, err := req.AddressParam("address")
		if err != nil {
			return nil, err
		}
		return addr, nil
	})
	sr.RegisterHandler("/broken", true, func(*Request) (any, error) {
		return nil, errors.New("disk on fire")
	})

	routes := sr.Routes()
	sort.Strings(routes)
	assert.Equal(t, []string{"/account/:address", "/broken", "/property/:id", "/property/count"}, routes)

	store := state.NewMemStore()
	serve := func(path string) ([]byte, error) {
		return sr.Serve(&Request{Path: path, Store: store, Time: time.Unix(1_700_000_000, 0)})
	}

	out, err := serve("/property/count")
	require.NoError(t, err)
	assert.JSONEq(t, `{"count":2}`, string(out))

	out, err = serve("/property/7")
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":7,"now":1700000000}`, string(out))

	_, err = serve("/property/seven")
	assert.True(t, errs.Is(err, errs.InvalidInput))
	_, err = serve("/account/zz")
	assert.True(t, errs.Is(err, errs.InvalidInput))
	_, err = serve("/unknown/route")
	assert.True(t, errs.Is(err, errs.NotFound))

	_, err = serve("/broken")
	require.Error(t, err)
	assert.Equal(t, errs.Internal, errs.KindOf(err))
}
