package provisioning

import (
	"net/http"
	"strconv"

	"github.com/ahrav/stc-sync/internal/api/errs"
	domain "github.com/ahrav/stc-sync/internal/domain/provisioning"
	"github.com/ahrav/stc-sync/pkg/web"
)

type equipmentParams struct {
	TenantID string `validate:"required,max=64"`
	DeviceID int64  `validate:"gt=0"`
}

// sendParams addresses either explicit equipment or every equipment of a
// client, never both. A push is capped at 100 equipment.
type sendParams struct {
	TenantID  string  `validate:"required,max=64"`
	DriverID  int64   `validate:"gt=0"`
	Equipment []int64 `validate:"required_without=Client,excluded_with=Client,max=100,dive,gt=0"`
	Client    int64   `validate:"required_without=Equipment,gte=0"`
}

func parseID(name, raw string) (int64, *errs.Error) {
	id, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, errs.Newf(errs.InvalidArgument, "%s %q is not a number", name, raw)
	}
	return id, nil
}

func parseEquipmentParams(r *http.Request) (equipmentParams, *errs.Error) {
	device, perr := parseID("deviceID", web.Param(r, "deviceID"))
	if perr != nil {
		return equipmentParams{}, perr
	}

	p := equipmentParams{TenantID: web.Param(r, "tenantID"), DeviceID: device}
	if err := errs.Check(p); err != nil {
		return equipmentParams{}, errs.New(errs.InvalidArgument, err)
	}
	return p, nil
}

func (p equipmentParams) tenant() domain.TenantID { return domain.TenantID(p.TenantID) }
func (p equipmentParams) device() domain.DeviceID { return domain.DeviceID(p.DeviceID) }

func parseSendParams(r *http.Request) (sendParams, *errs.Error) {
	driver, perr := parseID("driverID", web.Param(r, "driverID"))
	if perr != nil {
		return sendParams{}, perr
	}

	p := sendParams{TenantID: web.Param(r, "tenantID"), DriverID: driver}

	query := r.URL.Query()
	for _, raw := range query["equipment"] {
		id, perr := parseID("equipment", raw)
		if perr != nil {
			return sendParams{}, perr
		}
		p.Equipment = append(p.Equipment, id)
	}
	if raw := query.Get("client"); raw != "" {
		if p.Client, perr = parseID("client", raw); perr != nil {
			return sendParams{}, perr
		}
	}

	if err := errs.Check(p); err != nil {
		return sendParams{}, errs.New(errs.InvalidArgument, err)
	}
	return p, nil
}

func (p sendParams) devices() []domain.DeviceID {
	ids := make([]domain.DeviceID, len(p.Equipment))
	for i, id := range p.Equipment {
		ids[i] = domain.DeviceID(id)
	}
	return ids
}
