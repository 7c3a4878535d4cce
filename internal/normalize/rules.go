package normalize

import (
	"strconv"
	"time"
)

// Rule locates one value inside a provider payload. Path is dotted; numeric
// segments index into arrays. Format, when set, rewrites the raw scalar.
type Rule struct {
	Path   string
	Format func(string) string
}

type field int

const (
	fieldName field = iota
	fieldShortName
	fieldINN
	fieldOGRN
	fieldKPP
	fieldStatus
	fieldAddress
	fieldHead
	fieldHeadPost
	fieldRegisteredAt
)

func p(path string) Rule { return Rule{Path: path} }

// rules lists candidates per field in priority order: DaData findById/party,
// Checko v2 company/entrepreneur, then flat payloads.
// Supporting another provider means adding paths here.
var rules = map[field][]Rule{
	fieldName: {
		p("suggestions.0.data.name.full_with_opf"),
		p("suggestions.0.value"),
		p("data.НаимПолн"),
		p("data.ФИО"),
		p("name.full_with_opf"),
		p("name"),
		p("full_name"),
		p("company.name"),
	},
	fieldShortName: {
		p("suggestions.0.data.name.short_with_opf"),
		p("data.НаимСокр"),
		p("name.short_with_opf"),
		p("short_name"),
	},
	fieldINN: {
		p("suggestions.0.data.inn"),
		p("data.ИНН"),
		p("inn"),
		p("company.inn"),
	},
	fieldOGRN: {
		p("suggestions.0.data.ogrn"),
		p("data.ОГРН"),
		p("data.ОГРНИП"),
		p("ogrn"),
	},
	fieldKPP: {
		p("suggestions.0.data.kpp"),
		p("data.КПП"),
		p("kpp"),
	},
	fieldStatus: {
		p("suggestions.0.data.state.status"),
		p("data.Статус.Наим"),
		p("data.Статус"),
		p("state.status"),
		p("status"),
	},
	fieldAddress: {
		p("suggestions.0.data.address.unrestricted_value"),
		p("suggestions.0.data.address.value"),
		p("data.ЮрАдрес.АдресРФ"),
		p("address.value"),
		p("address"),
	},
	fieldHead: {
		p("suggestions.0.data.management.name"),
		p("data.Руковод.0.ФИО"),
		p("management.name"),
		p("director"),
		p("head"),
	},
	fieldHeadPost: {
		p("suggestions.0.data.management.post"),
		p("data.Руковод.0.НаимДолжн"),
		p("management.post"),
	},
	fieldRegisteredAt: {
		{Path: "suggestions.0.data.state.registration_date", Format: unixMillisToDate},
		p("data.ДатаРег"),
		p("registration_date"),
	},
}

// unixMillisToDate turns DaData's epoch milliseconds into YYYY-MM-DD.
func unixMillisToDate(s string) string {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return s
	}
	return time.UnixMilli(ms).UTC().Format("2006-01-02")
}
