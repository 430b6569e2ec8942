package member

import (
	"context"
	"testing"

	"group_buy/internal/mirror"
	"group_buy/internal/store/storetest"
	pkgerrors "group_buy/pkg/errors"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type capture struct{ events []mirror.Event }

func (c *capture) Publish(_ context.Context, ev mirror.Event) { c.events = append(c.events, ev) }

func TestRegisterStoresAndPropagates(t *testing.T) {
	st := storetest.New(t)
	pub := &capture{}
	svc, err := NewService(st, pub, nil)
	require.NoError(t, err)

	_, err = svc.Register(context.Background(), Registration{UID: "u-1", Name: " 阿明 ", Email: "ming@example.com"})
	require.NoError(t, err)
	_, err = svc.Register(context.Background(), Registration{UID: "u-1", Name: "阿明", Phone: "0912"})
	require.NoError(t, err)

	got, err := st.GetMember(context.Background(), "u-1")
	require.NoError(t, err)
	assert.Equal(t, "阿明", got.Name)
	assert.Equal(t, "0912", got.Phone)
	require.Len(t, pub.events, 2)
	assert.Equal(t, mirror.EventRegister, pub.events[0].Type)
}

func TestRegisterValidates(t *testing.T) {
	svc, err := NewService(storetest.New(t), nil, nil)
	require.NoError(t, err)
	_, err = svc.Register(context.Background(), Registration{UID: "u-1"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
	_, err = svc.Register(context.Background(), Registration{UID: "u-1", Name: "x", Email: "not-mail"})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.CodeValidation))
}
