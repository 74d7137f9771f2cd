/*
Copyright 2024 The Monomi Authors.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package plan

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liuyi1112/monomi-optimizer/go/onion"
	"github.com/liuyi1112/monomi-optimizer/go/sqlast"
)

func remoteFixture() *RemoteSql {
	return &RemoteSql{
		Stmt: &sqlast.Select{
			Projections: sqlast.SelectExprs{
				&sqlast.AliasedExpr{Expr: &sqlast.ColName{Qualifier: "t$enc", Name: "a$DET"}},
				&sqlast.AliasedExpr{Expr: &sqlast.ColName{Qualifier: "t$enc", Name: "b$OPE"}},
			},
			From: sqlast.TableExprs{&sqlast.AliasedTableExpr{Expr: sqlast.TableName{Name: "t$enc"}}},
		},
		Desc: []onion.ColType{onion.NewColType(onion.DET), onion.NewColType(onion.OPE)},
	}
}

func TestTupleDescPropagation(t *testing.T) {
	rs := remoteFixture()
	assert.Equal(t, "select t$enc.a$DET, t$enc.b$OPE from t$enc", rs.SQL())

	dec := &LocalDecrypt{Positions: []int{0}, Child: rs}
	desc := dec.TupleDesc()
	assert.True(t, desc[0].IsPlain())
	assert.Equal(t, onion.OPE, desc[1].Onion)
	// The child descriptor is untouched.
	assert.Equal(t, onion.DET, rs.TupleDesc()[0].Onion)

	enc := &LocalEncrypt{Positions: []EncryptPos{{Pos: 0, Target: onion.DET}}, Child: dec}
	assert.Equal(t, onion.DET, enc.TupleDesc()[0].Onion)

	tr := &LocalTransform{
		Outputs: []TransformOutput{
			{Pos: 1},
			{Comp: &ClientComputation{Expr: &sqlast.TuplePosition{Pos: 0}}},
		},
		Child: dec,
	}
	desc = tr.TupleDesc()
	require.Len(t, desc, 2)
	assert.Equal(t, onion.OPE, desc[0].Onion)
	assert.True(t, desc[1].IsPlain())
}

func TestVectorSurvivesDecrypt(t *testing.T) {
	rs := remoteFixture()
	rs.Desc[0] = onion.ColType{Onion: onion.DET, Vector: true}
	dec := &LocalDecrypt{Positions: []int{0}, Child: rs}
	assert.True(t, dec.TupleDesc()[0].Vector)
	assert.True(t, dec.TupleDesc()[0].IsPlain())
}

func TestCheckTupleDesc(t *testing.T) {
	rs := remoteFixture()
	good := &LocalOrderBy{Keys: []OrderKey{{Pos: 1}}, Child: &LocalDecrypt{Positions: []int{0}, Child: rs}}
	assert.NoError(t, CheckTupleDesc(good))

	bad := &LocalDecrypt{Positions: []int{7}, Child: rs}
	assert.Error(t, CheckTupleDesc(bad))

	badEnc := &LocalEncrypt{Positions: []EncryptPos{{Pos: 0, Target: onion.DET | onion.OPE}}, Child: rs}
	assert.Error(t, CheckTupleDesc(badEnc))

	badTr := &LocalTransform{Outputs: []TransformOutput{{Pos: 3}}, Child: rs}
	assert.Error(t, CheckTupleDesc(badTr))

	rs.Desc = rs.Desc[:1]
	assert.Error(t, CheckTupleDesc(rs), "desc width must match projection count")
}

func TestDescribe(t *testing.T) {
	rs := remoteFixture()
	node := &LocalLimit{Rowcount: 10, Child: &LocalDecrypt{Positions: []int{0, 1}, Child: rs}}
	desc := Describe(node)
	assert.Equal(t, "LocalLimit", desc.OperatorType)
	require.Len(t, desc.Inputs, 1)
	assert.Equal(t, "LocalDecrypt", desc.Inputs[0].OperatorType)
	require.Len(t, desc.Inputs[0].Inputs, 1)
	assert.Equal(t, "RemoteSql", desc.Inputs[0].Inputs[0].OperatorType)
	assert.Contains(t, desc.Inputs[0].Inputs[0].Other["Query"], "from t$enc")

	out, err := ToJSON(node)
	require.NoError(t, err)
	assert.Contains(t, out, "\"OperatorType\": \"LocalLimit\"")
}

func TestClientComputationReadPositions(t *testing.T) {
	cc := &ClientComputation{
		Projections: []CompProjection{
			{TuplePos: 2}, {TuplePos: 0}, {TuplePos: 2},
		},
		SubqueryProjections: []CompProjection{{TuplePos: 1}},
	}
	assert.Equal(t, []int{2, 0, 1}, cc.ReadPositions())
}
